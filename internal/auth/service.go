// Package auth issues access tokens to the crate's operators and guards the
// REST and websocket surfaces.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type Permission string

const (
	// PermViewer reads status, namespaces and FIFO dumps.
	PermViewer Permission = "viewer"
	// PermOperator issues lifecycle commands.
	PermOperator Permission = "operator"
	// PermAdmin replaces the crate defaults.
	PermAdmin Permission = "admin"
)

// EventLogger persists authentication events.
type EventLogger interface {
	LogAuthEvent(ctx context.Context, eventType, username, ipAddress, userAgent string, success bool, reason string) error
}

// Identity is an authenticated caller.
type Identity struct {
	UserID      uuid.UUID    `json:"user_id"`
	Username    string       `json:"username"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
}

type AuthService struct {
	users          map[string]config.UserConfig
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	events         EventLogger
	logger         *zap.Logger
}

// NewAuthService authenticates against the operator accounts in cfg. events
// may be nil.
func NewAuthService(cfg config.AuthConfig, hasher *PasswordHasher, events EventLogger, logger *zap.Logger) *AuthService {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}

	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is the development fallback, set " + cfg.JWTSecretEnv)
	}

	return &AuthService{
		users:          users,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: hasher,
		events:         events,
		logger:         logger,
	}
}

// LoginUser checks a password and returns a signed access token.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress, userAgent string) (string, time.Time, error) {
	user, ok := a.users[username]
	if !ok {
		a.logAuthEvent(ctx, "user_login_failed", username, ipAddress, userAgent, false, "user not found")
		return "", time.Time{}, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		reason := "invalid password"
		if err != nil {
			reason = err.Error()
			a.logger.Warn("Stored password hash unusable", zap.String("username", username), zap.Error(err))
		}
		a.logAuthEvent(ctx, "user_login_failed", username, ipAddress, userAgent, false, reason)
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expires, err := a.jwtHandler.GenerateAccessToken(userID(username), username, user.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent(ctx, "user_login_success", username, ipAddress, userAgent, true, "")
	return token, expires, nil
}

// ValidateToken resolves an access token to the caller's identity.
func (a *AuthService) ValidateToken(token string) (*Identity, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}

	// Accounts removed from the configuration lose access immediately.
	user, ok := a.users[claims.Username]
	if !ok {
		return nil, fmt.Errorf("%w: unknown user %q", ErrInvalidToken, claims.Username)
	}

	return &Identity{
		UserID:      claims.UserID,
		Username:    claims.Username,
		Role:        user.Role,
		Permissions: RolePermissions(user.Role),
	}, nil
}

// RolePermissions maps a configured role to its permissions.
func RolePermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermViewer, PermOperator, PermAdmin}
	case "operator":
		return []Permission{PermViewer, PermOperator}
	default:
		return []Permission{PermViewer}
	}
}

// HasPermission reports whether perms contains required.
func HasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == required {
			return true
		}
	}
	return false
}

func userID(username string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("cratemanager/user/"+username))
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType, username, ip, userAgent string, success bool, reason string) {
	if a.events == nil {
		return
	}
	if err := a.events.LogAuthEvent(ctx, eventType, username, ip, userAgent, success, reason); err != nil {
		a.logger.Warn("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}
