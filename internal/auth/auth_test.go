package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/config"
)

type authEvent struct {
	eventType string
	username  string
	success   bool
}

type fakeEvents struct {
	mu     sync.Mutex
	events []authEvent
}

var _ EventLogger = (*fakeEvents)(nil)

func (f *fakeEvents) LogAuthEvent(_ context.Context, eventType, username, _, _ string, success bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, authEvent{eventType, username, success})
	return nil
}

func fastHasher() *PasswordHasher {
	return NewPasswordHasherWithParams(1024, 1, 1)
}

func newTestService(t *testing.T, events EventLogger) *AuthService {
	t.Helper()
	h := fastHasher()

	users := []config.UserConfig{}
	for _, u := range []struct{ name, role, password string }{
		{"ada", "admin", "admin-password"},
		{"otto", "operator", "operator-password"},
		{"vic", "viewer", "viewer-password"},
	} {
		hash, err := h.HashPassword(u.password)
		require.NoError(t, err)
		users = append(users, config.UserConfig{Username: u.name, Role: u.role, PasswordHash: hash})
	}

	return NewAuthService(config.AuthConfig{
		JWTSecretEnv:   "CRATE_TEST_JWT_SECRET",
		AccessTokenTTL: time.Minute,
		Users:          users,
	}, h, events, zap.NewNop())
}

func TestPasswordHasher(t *testing.T) {
	h := fastHasher()
	hash, err := h.HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$")

	ok, err := h.VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("battery staple", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.VerifyPassword("x", "$bcrypt$nope")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTHandler("0123456789abcdef0123456789abcdef", time.Minute)
	id := userID("ada")

	token, expires, err := j.GenerateAccessToken(id, "ada", "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	claims, err := j.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	other := NewJWTHandler("another-secret-another-secret-xx", time.Minute)
	_, err = other.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTHandler("0123456789abcdef0123456789abcdef", -time.Minute)
	token, _, err = expired.GenerateAccessToken(id, "ada", "admin")
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginUser(t *testing.T) {
	events := &fakeEvents{}
	svc := newTestService(t, events)
	ctx := context.Background()

	_, _, err := svc.LoginUser(ctx, "otto", "wrong", "127.0.0.1", "test")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.LoginUser(ctx, "nobody", "operator-password", "127.0.0.1", "test")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, _, err := svc.LoginUser(ctx, "otto", "operator-password", "127.0.0.1", "test")
	require.NoError(t, err)

	identity, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "otto", identity.Username)
	assert.Equal(t, []Permission{PermViewer, PermOperator}, identity.Permissions)
	assert.Equal(t, userID("otto"), identity.UserID)

	require.Len(t, events.events, 3)
	assert.Equal(t, authEvent{"user_login_failed", "otto", false}, events.events[0])
	assert.Equal(t, authEvent{"user_login_failed", "nobody", false}, events.events[1])
	assert.Equal(t, authEvent{"user_login_success", "otto", true}, events.events[2])
}

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role string
		perm Permission
		want bool
	}{
		{"admin", PermAdmin, true},
		{"admin", PermOperator, true},
		{"operator", PermOperator, true},
		{"operator", PermAdmin, false},
		{"viewer", PermViewer, true},
		{"viewer", PermOperator, false},
		{"", PermViewer, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasPermission(RolePermissions(tt.role), tt.perm), "%s/%s", tt.role, tt.perm)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, nil)

	router := gin.New()
	router.GET("/ops", svc.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) {
		c.String(http.StatusOK, GetIdentity(c).Username)
	})

	login := func(user, password string) string {
		token, _, err := svc.LoginUser(context.Background(), user, password, "", "")
		require.NoError(t, err)
		return "Bearer " + token
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"viewer", login("vic", "viewer-password"), http.StatusForbidden},
		{"operator", login("otto", "operator-password"), http.StatusOK},
		{"admin", login("ada", "admin-password"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ops", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
