// Package auth issues and validates bearer tokens against the credential store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/domain"
	"github.com/Sakura-kurt/EchoMine/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDuplicateUsername indicates the username is already registered.
	ErrDuplicateUsername = errors.New("auth: username already exists")

	// ErrInvalidCredentials indicates an unknown username, inactive user,
	// or wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrTokenExpired indicates the token's embedded deadline has passed.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid indicates a malformed or badly signed token.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Service authenticates users and issues signed, time-boxed bearer tokens.
type Service struct {
	store    store.Store
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates an auth service backed by the given store.
func NewService(st store.Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		store:    st,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// Register creates a new user and returns its id.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		UserID:       store.NewUserID(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			return "", ErrDuplicateUsername
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	slog.Info("User registered", "user_id", user.UserID, "username", username)
	return user.UserID, nil
}

// Login verifies credentials and returns a fresh bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Auth failure", "username", username, "reason", "user_not_found")
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive {
		slog.Warn("Auth failure", "user_id", user.UserID, "reason", "user_inactive")
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("Auth failure", "user_id", user.UserID, "reason", "invalid_password")
		return "", ErrInvalidCredentials
	}

	token, err := s.issueToken(user.UserID)
	if err != nil {
		return "", err
	}

	slog.Info("Auth success", "user_id", user.UserID)
	return token, nil
}

// Refresh exchanges a still-valid token for a fresh one.
func (s *Service) Refresh(ctx context.Context, token string) (string, error) {
	user, err := s.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	return s.issueToken(user.UserID)
}

// Verify validates a token and resolves its subject to a live user.
func (s *Service) Verify(ctx context.Context, token string) (*domain.User, error) {
	userID, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrTokenInvalid
	}
	return user, nil
}

// issueToken signs a time-boxed bearer token carrying the user id as
// subject plus a unique issuance id to distinguish repeated logins.
func (s *Service) issueToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parseToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrTokenExpired
	}
	if err != nil {
		return "", ErrTokenInvalid
	}
	if claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}
