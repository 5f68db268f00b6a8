// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/Sakura-kurt/EchoMine/internal/domain"
)

var (
	// ErrNotFound indicates the requested record does not exist or has expired.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateUsername indicates the username is already taken.
	ErrDuplicateUsername = errors.New("store: duplicate username")
)

// Store persists user records and TTL-backed session state.
type Store interface {
	// CreateUser persists a new user. Returns ErrDuplicateUsername if the
	// username is already claimed.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetOrCreateSession returns the user's live session, refreshing its
	// TTL, or creates a fresh one. The bool reports whether the session
	// was newly created.
	GetOrCreateSession(ctx context.Context, userID string) (*domain.Session, bool, error)

	// GetSession retrieves a session by id without refreshing it.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// AppendHistory appends a message to the session history and refreshes
	// the session TTL.
	AppendHistory(ctx context.Context, sessionID, role, text string) error

	// DeleteSession removes a session and its user mapping.
	DeleteSession(ctx context.Context, sessionID string) error

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
