package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UtteranceJob is published once per completed utterance. Seq is a
// per-connection monotonically increasing counter used to attribute
// replies, not to deduplicate.
type UtteranceJob struct {
	Text         string `json:"text"`
	ConnectionID string `json:"connection_id"`
	Seq          int    `json:"seq"`
}

// Reply is the asynchronously produced answer, published to the reply
// queue named after the originating connection.
type Reply struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	Seq      int    `json:"seq"`
}

// MemoryJob asks the memory gate whether an exchange is worth keeping.
type MemoryJob struct {
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// DecodeUtteranceJob parses a queued utterance body, rejecting unknown
// shapes rather than passing them through.
func DecodeUtteranceJob(data []byte) (UtteranceJob, error) {
	var job UtteranceJob
	if err := decodeStrict(data, &job); err != nil {
		return UtteranceJob{}, fmt.Errorf("decode utterance job: %w", err)
	}
	if job.Text == "" {
		return UtteranceJob{}, fmt.Errorf("decode utterance job: empty text")
	}
	if job.ConnectionID == "" {
		return UtteranceJob{}, fmt.Errorf("decode utterance job: missing connection_id")
	}
	return job, nil
}

// DecodeReply parses a reply body.
func DecodeReply(data []byte) (Reply, error) {
	var r Reply
	if err := decodeStrict(data, &r); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return r, nil
}

// DecodeMemoryJob parses a memory-gate job body.
func DecodeMemoryJob(data []byte) (MemoryJob, error) {
	var job MemoryJob
	if err := decodeStrict(data, &job); err != nil {
		return MemoryJob{}, fmt.Errorf("decode memory job: %w", err)
	}
	if job.UserMessage == "" {
		return MemoryJob{}, fmt.Errorf("decode memory job: missing user_message")
	}
	return job, nil
}
