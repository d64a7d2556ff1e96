package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/chatsync/modules/history"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// AuthModule issues and validates identity tokens.
type AuthModule struct {
	config  JWTConfig
	cost    int
	users   UserStore
	service *AuthService
	logger  types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.ServiceProviderModule = (*AuthModule)(nil)
var _ mono.DependentModule = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates a new AuthModule. bcryptCost of zero selects the default.
func NewModule(config JWTConfig, bcryptCost int, logger types.Logger) *AuthModule {
	return &AuthModule{
		config: config,
		cost:   bcryptCost,
		logger: logger.WithModule("auth"),
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Dependencies returns the list of module dependencies.
func (m *AuthModule) Dependencies() []string {
	return []string{"history"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *AuthModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "history" {
		m.users = history.NewHistoryAdapter(container)
	}
}

// Start initializes the auth service.
func (m *AuthModule) Start(_ context.Context) error {
	if m.users == nil {
		return fmt.Errorf("history dependency not set")
	}
	if m.config.SecretKey == "" {
		return fmt.Errorf("jwt secret key is empty")
	}
	m.service = NewAuthService(m.users, NewPasswordHasher(m.cost), NewJWTManager(m.config))
	m.logger.Info("Auth module started", "issuer", m.config.Issuer, "ttl", m.config.AccessTokenDuration.String())
	return nil
}

// Stop shuts down the module.
func (m *AuthModule) Stop(_ context.Context) error {
	m.logger.Info("Auth module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{Healthy: true, Message: "operational"}
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceRegister,
		json.Unmarshal,
		json.Marshal,
		m.handleRegister,
	); err != nil {
		return fmt.Errorf("failed to register register service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceLogin,
		json.Unmarshal,
		json.Marshal,
		m.handleLogin,
	); err != nil {
		return fmt.Errorf("failed to register login service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceValidateToken,
		json.Unmarshal,
		json.Marshal,
		m.handleValidateToken,
	); err != nil {
		return fmt.Errorf("failed to register validate-token service: %w", err)
	}

	m.logger.Info("Registered services: register, login, validate-token")
	return nil
}

func (m *AuthModule) handleRegister(ctx context.Context, req RegisterRequest, _ *mono.Msg) (RegisterResponse, error) {
	user, err := m.service.Register(ctx, req.Username, req.Password)
	if err != nil {
		code := errorCode(err)
		if code == "" {
			return RegisterResponse{}, err
		}
		return RegisterResponse{Code: code, Error: err.Error()}, nil
	}
	m.logger.Info("User registered", "user", user.ID)
	return RegisterResponse{User: user}, nil
}

func (m *AuthModule) handleLogin(ctx context.Context, req LoginRequest, _ *mono.Msg) (LoginResponse, error) {
	tokens, err := m.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		code := errorCode(err)
		if code == "" {
			return LoginResponse{}, err
		}
		return LoginResponse{Code: code, Error: err.Error()}, nil
	}
	return LoginResponse{
		AccessToken: tokens.AccessToken,
		ExpiresIn:   tokens.ExpiresIn,
		TokenType:   tokens.TokenType,
		User:        tokens.User,
	}, nil
}

// handleValidateToken reports validation failures in the response, not as errors.
func (m *AuthModule) handleValidateToken(ctx context.Context, req ValidateTokenRequest, _ *mono.Msg) (ValidateTokenResponse, error) {
	identity, err := m.service.ValidateToken(ctx, req.Token)
	if err != nil {
		code := errorCode(err)
		if code == "" {
			code = codeInvalidToken
		}
		return ValidateTokenResponse{Valid: false, Code: code, Error: err.Error()}, nil
	}
	return ValidateTokenResponse{
		Valid:    true,
		UserID:   identity.UserID,
		Username: identity.Username,
	}, nil
}
