package domain

import (
	"strconv"
	"testing"
	"time"
)

func TestSessionAppend(t *testing.T) {
	s := &Session{SessionID: "sess_1", UserID: "user_1"}
	now := time.Now()

	s.Append(RoleUser, "hello", now)
	s.Append(RoleAssistant, "hi there", now.Add(time.Second))

	if len(s.History) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(s.History))
	}
	if s.History[0].Role != RoleUser || s.History[0].Text != "hello" {
		t.Errorf("Unexpected first message: %+v", s.History[0])
	}
	if s.History[1].Role != RoleAssistant {
		t.Errorf("Expected assistant role, got %q", s.History[1].Role)
	}
	if !s.LastActive.Equal(now.Add(time.Second)) {
		t.Errorf("Expected last_active to track the append, got %v", s.LastActive)
	}
}

func TestSessionAppendCap(t *testing.T) {
	s := &Session{SessionID: "sess_1", UserID: "user_1"}
	now := time.Now()

	for i := 1; i <= MaxHistory+1; i++ {
		s.Append(RoleUser, "msg "+strconv.Itoa(i), now)
	}

	if len(s.History) != MaxHistory {
		t.Fatalf("Expected history capped at %d, got %d", MaxHistory, len(s.History))
	}
	if s.History[0].Text != "msg 2" {
		t.Errorf("Expected oldest message evicted, first is %q", s.History[0].Text)
	}
	if s.History[len(s.History)-1].Text != "msg 101" {
		t.Errorf("Expected newest message retained, last is %q", s.History[len(s.History)-1].Text)
	}
}
