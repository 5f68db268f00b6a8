package domain

import (
	"time"
)

// Connection is transient per-transport state owned by the gateway; it is
// never persisted. Each live connection owns exactly one segmentation
// engine and one reply subscription.
type Connection struct {
	ConnectionID string
	SessionID    string
	UserID       string
	TraceID      string
	OpenedAt     time.Time
}
