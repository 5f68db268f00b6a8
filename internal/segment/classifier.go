// Package segment turns a continuous audio frame stream into discrete
// utterances using per-frame voice activity classification.
package segment

import (
	"encoding/binary"
	"math"
)

// Classifier decides whether a single fixed-size frame contains speech.
type Classifier interface {
	IsSpeech(frame []byte) bool
}

// EnergyClassifier is a simple RMS-energy voice activity detector over
// 16-bit mono PCM frames.
type EnergyClassifier struct {
	threshold float64
}

// DefaultEnergyThreshold suits normalized 16-bit speech recorded at
// conversational level.
const DefaultEnergyThreshold = 1000.0

// NewEnergyClassifier creates an energy-based classifier. A threshold of
// 0 selects DefaultEnergyThreshold.
func NewEnergyClassifier(threshold float64) *EnergyClassifier {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyClassifier{threshold: threshold}
}

// IsSpeech reports whether the frame's RMS energy exceeds the threshold.
func (c *EnergyClassifier) IsSpeech(frame []byte) bool {
	n := len(frame) / 2
	if n == 0 {
		return false
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(n)) > c.threshold
}
