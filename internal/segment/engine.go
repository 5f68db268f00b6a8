package segment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EventType identifies a segmentation event.
type EventType string

// Segmentation events emitted by the engine, forwarded verbatim to clients.
const (
	EventSpeechStart EventType = "speech_start"
	EventSpeechEnd   EventType = "speech_end"
	EventFinal       EventType = "final"
	EventError       EventType = "error"
)

// Reasons attached to a final event with empty text.
const (
	ReasonTooShort = "too_short"
	ReasonEmpty    = "empty"
)

// Event is one segmentation outcome. Final events with non-empty Text
// carry a per-connection increasing Seq.
type Event struct {
	Type    EventType
	Text    string
	Reason  string
	Seq     int
	Stage   string
	Message string
}

// Transcriber converts a buffered utterance to text. Implementations may
// block; the engine bounds each call with a timeout.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Config fixes the frame format and segmentation thresholds.
type Config struct {
	SampleRate        int
	FrameDuration     time.Duration
	SilenceCutoff     time.Duration
	MinUtterance      time.Duration
	MaxUtterance      time.Duration
	TranscribeTimeout time.Duration
}

// DefaultConfig returns the segmentation defaults: 20ms frames at 16kHz,
// 700ms silence cutoff, 250ms minimum utterance.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		FrameDuration:     20 * time.Millisecond,
		SilenceCutoff:     700 * time.Millisecond,
		MinUtterance:      250 * time.Millisecond,
		MaxUtterance:      60 * time.Second,
		TranscribeTimeout: 30 * time.Second,
	}
}

// FrameBytes returns the expected byte length of one 16-bit mono frame.
func (c Config) FrameBytes() int {
	samples := c.SampleRate * int(c.FrameDuration.Milliseconds()) / 1000
	return samples * 2
}

// Engine is a per-connection segmentation state machine. Push must be
// called from a single goroutine; events are delivered on Events().
// Transcription runs off the frame path so a slow transcriber never
// stalls frame intake.
type Engine struct {
	cfg Config
	cls Classifier
	tr  Transcriber

	events chan Event

	inSpeech bool
	buf      []byte
	silence  time.Duration
	speech   time.Duration
	seq      int

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an engine. Events() must be drained for the engine to make
// progress.
func New(cfg Config, cls Classifier, tr Transcriber) *Engine {
	return &Engine{
		cfg:    cfg,
		cls:    cls,
		tr:     tr,
		events: make(chan Event, 64),
		buf:    make([]byte, 0, cfg.FrameBytes()*64),
	}
}

// Events returns the event stream. The channel is closed by Close after
// outstanding transcriptions finish.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Push feeds one audio frame through the state machine. Frames with an
// unexpected length are zero-padded or truncated before classification.
func (e *Engine) Push(ctx context.Context, frame []byte) {
	frame = e.normalize(frame)

	if e.cls.IsSpeech(frame) {
		if !e.inSpeech {
			e.inSpeech = true
			e.buf = e.buf[:0]
			e.speech = 0
			e.emit(ctx, Event{Type: EventSpeechStart})
		}
		e.silence = 0
		e.speech += e.cfg.FrameDuration
		e.buf = append(e.buf, frame...)
		if e.buffered() >= e.cfg.MaxUtterance {
			e.endUtterance(ctx)
		}
		return
	}

	if !e.inSpeech {
		return
	}

	e.silence += e.cfg.FrameDuration
	if e.silence < e.cfg.SilenceCutoff {
		// Tolerated pause: keep the audio so the utterance stays contiguous.
		e.buf = append(e.buf, frame...)
		return
	}
	e.endUtterance(ctx)
}

// Close waits for outstanding transcriptions and closes the event stream.
// Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.wg.Wait()
		close(e.events)
	})
}

func (e *Engine) normalize(frame []byte) []byte {
	want := e.cfg.FrameBytes()
	switch {
	case len(frame) == want:
		return frame
	case len(frame) > want:
		return frame[:want]
	default:
		padded := make([]byte, want)
		copy(padded, frame)
		return padded
	}
}

func (e *Engine) buffered() time.Duration {
	bytesPerSecond := e.cfg.SampleRate * 2
	return time.Duration(len(e.buf)) * time.Second / time.Duration(bytesPerSecond)
}

func (e *Engine) endUtterance(ctx context.Context) {
	e.inSpeech = false
	e.silence = 0
	e.emit(ctx, Event{Type: EventSpeechEnd})

	// The minimum applies to detected speech; tolerated pauses kept in the
	// buffer do not count toward it.
	if e.speech < e.cfg.MinUtterance {
		e.buf = e.buf[:0]
		e.emit(ctx, Event{Type: EventFinal, Reason: ReasonTooShort})
		return
	}

	pcm := make([]byte, len(e.buf))
	copy(pcm, e.buf)
	e.buf = e.buf[:0]

	e.seq++
	seq := e.seq

	e.wg.Add(1)
	go e.transcribe(ctx, pcm, seq)
}

func (e *Engine) transcribe(ctx context.Context, pcm []byte, seq int) {
	defer e.wg.Done()

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TranscribeTimeout)
	defer cancel()

	text, err := e.tr.Transcribe(tctx, pcm)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timeout"
		}
		slog.Warn("Transcription failed", "seq", seq, "error", err)
		e.emit(ctx, Event{Type: EventError, Stage: "transcribe", Message: msg})
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		e.emit(ctx, Event{Type: EventFinal, Seq: seq, Reason: ReasonEmpty})
		return
	}
	e.emit(ctx, Event{Type: EventFinal, Seq: seq, Text: text})
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}
