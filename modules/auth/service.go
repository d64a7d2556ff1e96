package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/modules/history"
)

// UserStore is the part of the history port the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error)
	FindUser(ctx context.Context, username string) (*chat.User, error)
}

// AuthService implements registration, login and token validation.
type AuthService struct {
	users  UserStore
	hasher *PasswordHasher
	jwt    *JWTManager
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, hasher *PasswordHasher, jwtManager *JWTManager) *AuthService {
	return &AuthService{
		users:  users,
		hasher: hasher,
		jwt:    jwtManager,
	}
}

// Register creates a user with a hashed password.
func (s *AuthService) Register(ctx context.Context, username, password string) (*chat.User, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	switch {
	case errors.Is(err, history.ErrUsernameTaken):
		return nil, ErrUsernameTaken
	case errors.Is(err, history.ErrInvalidInput):
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case err != nil:
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.FindUser(ctx, username)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	safe := *user
	safe.PasswordHash = ""
	return &TokenPair{
		AccessToken: token,
		ExpiresIn:   s.jwt.ExpiresIn(),
		TokenType:   "Bearer",
		User:        &safe,
	}, nil
}

// ValidateToken returns the identity behind a valid access token.
func (s *AuthService) ValidateToken(_ context.Context, token string) (*Identity, error) {
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
