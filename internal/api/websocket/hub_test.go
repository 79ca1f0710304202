package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/auth"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/manager"
)

type fakeTokens struct{}

var _ TokenValidator = fakeTokens{}

func (fakeTokens) ValidateToken(token string) (*auth.Identity, error) {
	if token != "good" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{Username: "shifter", Role: "operator", Permissions: auth.RolePermissions("operator")}, nil
}

type fakeStatus struct{ state manager.State }

func (f fakeStatus) Status() manager.Status {
	return manager.Status{State: f.state, EnableMask: "0x000"}
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), fakeTokens{})
	hub.SetStatusProvider(fakeStatus{state: manager.StateHalted})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readType(t *testing.T, conn *gorilla.Conn) map[string]interface{} {
	t.Helper()
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestClientReceivesStateChanges(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "good"}))

	msg := readType(t, conn)
	assert.Equal(t, string(MessageTypeAuthSuccess), msg["type"])
	assert.Equal(t, "shifter", msg["username"])

	msg = readType(t, conn)
	assert.Equal(t, string(MessageTypeCrateStatus), msg["type"])

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.StateChanged(manager.Status{State: manager.StateInitialized})
	msg = readType(t, conn)
	assert.Equal(t, string(MessageTypeCrateState), msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, string(manager.StateInitialized), data["state"])

	hub.StateChanged(manager.Status{State: manager.StateConfigured})
	msg = readType(t, conn)
	data = msg["data"].(map[string]interface{})
	assert.Equal(t, string(manager.StateConfigured), data["state"])
	assert.Equal(t, string(manager.StateInitialized), data["previous_state"])

	hub.InfospaceChanged(infospace.Change{URN: "urn:crate:hw:shelf01.amc02", Field: "L1A_COUNT", Value: uint32(7)})
	msg = readType(t, conn)
	assert.Equal(t, string(MessageTypeInfospaceChange), msg["type"])
	data = msg["data"].(map[string]interface{})
	assert.Equal(t, "L1A_COUNT", data["field"])
}

func TestClientRejectedWithoutAuth(t *testing.T) {
	hub, url := startHub(t)

	tests := []struct {
		name string
		msg  map[string]string
	}{
		{"wrong first message", map[string]string{"type": "status"}},
		{"missing token", map[string]string{"type": "auth"}},
		{"bad token", map[string]string{"type": "auth", "token": "bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, url)
			require.NoError(t, conn.WriteJSON(tt.msg))

			msg := readType(t, conn)
			assert.Equal(t, string(MessageTypeAuthFailed), msg["type"])

			// The server closes the connection after the reply.
			var next map[string]interface{}
			assert.Error(t, conn.ReadJSON(&next))
		})
	}

	assert.Equal(t, 0, hub.GetClientCount())
}
