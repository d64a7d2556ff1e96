package auth

import (
	"errors"
	"fmt"

	"github.com/example/chatsync/domain/chat"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	// ErrInvalidCredentials is returned when username or password is wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrWeakPassword is returned when a password is too short.
	ErrWeakPassword = errors.New("password too short")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidRequest is returned for malformed registration data.
	ErrInvalidRequest = errors.New("invalid request")
)

// Service names
const (
	ServiceRegister      = "register"
	ServiceLogin         = "login"
	ServiceValidateToken = "validate-token"
)

// Error codes carried in service responses.
const (
	codeInvalidCredentials = "invalid_credentials"
	codeWeakPassword       = "weak_password"
	codeUsernameTaken      = "username_taken"
	codeInvalidRequest     = "invalid_request"
	codeInvalidToken       = "invalid_token"
	codeExpiredToken       = "expired_token"
)

var codeErrors = map[string]error{
	codeInvalidCredentials: ErrInvalidCredentials,
	codeWeakPassword:       ErrWeakPassword,
	codeUsernameTaken:      ErrUsernameTaken,
	codeInvalidRequest:     ErrInvalidRequest,
	codeInvalidToken:       ErrInvalidToken,
	codeExpiredToken:       ErrExpiredToken,
}

// errorCode maps a service error to its wire code, or "" for internal errors.
func errorCode(err error) string {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// codeError rebuilds the sentinel for a wire code.
func codeError(code, message string) error {
	if code == "" {
		return nil
	}
	if sentinel, ok := codeErrors[code]; ok {
		return fmt.Errorf("%w: %s", sentinel, message)
	}
	return errors.New(message)
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse represents a user registration response.
type RegisterResponse struct {
	User  *chat.User `json:"user,omitempty"`
	Code  string     `json:"code,omitempty"`
	Error string     `json:"error,omitempty"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the identity token consumed by the WebSocket handshake.
type LoginResponse struct {
	AccessToken string     `json:"access_token,omitempty"`
	ExpiresIn   int64      `json:"expires_in,omitempty"`
	TokenType   string     `json:"token_type,omitempty"`
	User        *chat.User `json:"user,omitempty"`
	Code        string     `json:"code,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ValidateTokenRequest represents a token validation request.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse represents a token validation response.
type ValidateTokenResponse struct {
	Valid    bool   `json:"valid"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Identity is the authenticated principal behind a token.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// TokenPair is returned by a successful login.
type TokenPair struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
	User        *chat.User `json:"user"`
}
