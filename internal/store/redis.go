package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	user:<user_id>              user record
//	username:<username>         user_id, claimed at registration
//	session:<session_id>        session record, TTL = session timeout
//	user_session:<user_id>      session_id, same TTL, refreshed in lockstep
const (
	userKeyPrefix        = "user:"
	usernameKeyPrefix    = "username:"
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_session:"
)

// RedisStore implements Store on a Redis keyed layout with TTL expiry.
type RedisStore struct {
	client         *redis.Client
	sessionTimeout time.Duration
}

// NewRedis creates a Redis-backed store. sessionTimeout controls the TTL
// of session keys and their user mappings.
func NewRedis(url string, sessionTimeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client:         redis.NewClient(opts),
		sessionTimeout: sessionTimeout,
	}, nil
}

// NewRedisClient wraps an existing client; used by tests.
func NewRedisClient(client *redis.Client, sessionTimeout time.Duration) *RedisStore {
	return &RedisStore{client: client, sessionTimeout: sessionTimeout}
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	id := uuid.New()
	return "sess_" + hex.EncodeToString(id[:])[:16]
}

// NewUserID returns a fresh user identifier.
func NewUserID() string {
	id := uuid.New()
	return "user_" + hex.EncodeToString(id[:])[:12]
}

// CreateUser persists a new user, claiming the username atomically.
func (s *RedisStore) CreateUser(ctx context.Context, user *domain.User) error {
	claimed, err := s.client.SetNX(ctx, usernameKeyPrefix+user.Username, user.UserID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim username: %w", err)
	}
	if !claimed {
		return ErrDuplicateUsername
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.client.Set(ctx, userKeyPrefix+user.UserID, data, 0).Err(); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *RedisStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	data, err := s.client.Get(ctx, userKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername resolves a username to its user record.
func (s *RedisStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	userID, err := s.client.Get(ctx, usernameKeyPrefix+username).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve username: %w", err)
	}
	return s.GetUser(ctx, userID)
}

// GetOrCreateSession returns the user's live session with a refreshed TTL,
// or creates a fresh one with empty history. Concurrent calls for the same
// user are last-write-wins.
func (s *RedisStore) GetOrCreateSession(ctx context.Context, userID string) (*domain.Session, bool, error) {
	sessionID, err := s.client.Get(ctx, userSessionKeyPrefix+userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("resolve user session: %w", err)
	}

	if sessionID != "" {
		session, err := s.GetSession(ctx, sessionID)
		if err == nil {
			session.LastActive = time.Now().UTC()
			if err := s.writeSession(ctx, session); err != nil {
				return nil, false, err
			}
			return session, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		// Mapping outlived the session; fall through and create a new one.
	}

	now := time.Now().UTC()
	session := &domain.Session{
		SessionID:  NewSessionID(),
		UserID:     userID,
		CreatedAt:  now,
		LastActive: now,
		History:    []domain.Message{},
	}
	if err := s.writeSession(ctx, session); err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// GetSession retrieves a session by id without refreshing it.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// AppendHistory appends a message to the session history, evicting beyond
// the cap, and refreshes both the session and its user mapping.
func (s *RedisStore) AppendHistory(ctx context.Context, sessionID, role, text string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.Append(role, text, time.Now().UTC())
	return s.writeSession(ctx, session)
}

// DeleteSession removes a session and its user mapping.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID, userSessionKeyPrefix+session.UserID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping verifies store connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// writeSession replaces the session record and refreshes the session key
// and user mapping with the same TTL.
func (s *RedisStore) writeSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.SessionID, data, s.sessionTimeout).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := s.client.Set(ctx, userSessionKeyPrefix+session.UserID, session.SessionID, s.sessionTimeout).Err(); err != nil {
		return fmt.Errorf("store user session mapping: %w", err)
	}
	return nil
}
