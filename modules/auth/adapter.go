package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/chatsync/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// AuthPort defines the authentication operations other modules use.
type AuthPort interface {
	Register(ctx context.Context, username, password string) (*chat.User, error)
	Login(ctx context.Context, username, password string) (*TokenPair, error)
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	return &AuthAdapter{
		container: container,
	}
}

// Register creates a user.
func (a *AuthAdapter) Register(ctx context.Context, username, password string) (*chat.User, error) {
	req := RegisterRequest{Username: username, Password: password}
	var resp RegisterResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRegister,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	if err := codeError(resp.Code, resp.Error); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Login verifies credentials and returns an access token.
func (a *AuthAdapter) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	req := LoginRequest{Username: username, Password: password}
	var resp LoginResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceLogin,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	if err := codeError(resp.Code, resp.Error); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
		TokenType:   resp.TokenType,
		User:        resp.User,
	}, nil
}

// ValidateToken validates an access token and returns its identity.
func (a *AuthAdapter) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	req := ValidateTokenRequest{Token: token}
	var resp ValidateTokenResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceValidateToken,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("validate-token request failed: %w", err)
	}

	if !resp.Valid {
		if err := codeError(resp.Code, resp.Error); err != nil {
			return nil, err
		}
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: resp.UserID, Username: resp.Username}, nil
}
