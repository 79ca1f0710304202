package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/api/websocket"
	"github.com/KevinKickass/CrateManager/internal/auth"
	"github.com/KevinKickass/CrateManager/internal/config"
	"github.com/KevinKickass/CrateManager/internal/crate"
	"github.com/KevinKickass/CrateManager/internal/hardware/hardwaretest"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/interfaces"
	"github.com/KevinKickass/CrateManager/internal/manager"
	"github.com/KevinKickass/CrateManager/internal/monitor"
)

type fakeLifecycle struct {
	ctrl     *manager.Controller
	log      interfaces.TransitionLog
	registry *prometheus.Registry
}

var _ interfaces.LifecycleManager = (*fakeLifecycle)(nil)

func (f *fakeLifecycle) Crate() interfaces.CrateController { return f.ctrl }
func (f *fakeLifecycle) Transitions() interfaces.TransitionLog {
	return f.log
}
func (f *fakeLifecycle) Gatherer() prometheus.Gatherer { return f.registry }
func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "running", CrateState: string(f.ctrl.State())}
}
func (f *fakeLifecycle) Shutdown(context.Context) error { return nil }

type memoryLog struct {
	records []manager.TransitionRecord
}

func (m *memoryLog) RecordTransition(_ context.Context, rec manager.TransitionRecord) error {
	m.records = append([]manager.TransitionRecord{rec}, m.records...)
	return nil
}

func (m *memoryLog) ListTransitions(_ context.Context, limit int) ([]manager.TransitionRecord, error) {
	if limit < len(m.records) {
		return m.records[:limit], nil
	}
	return m.records, nil
}

type testServer struct {
	handler http.Handler
	factory *hardwaretest.Factory
	ctrl    *manager.Controller
	tokens  map[string]string
}

func newTestServer(t *testing.T, slots string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	factory := hardwaretest.NewFactory()
	mask, err := crate.ParseEnableList(slots)
	require.NoError(t, err)
	for _, slot := range mask.Slots() {
		factory.Add(fmt.Sprintf("shelf01.amc%02d", slot), nil)
	}

	reg := prometheus.NewRegistry()
	ctrl := manager.NewController(logger, factory, infospace.NewRegistry(),
		manager.NewMetrics(reg), monitor.NewMetrics(reg), manager.Options{
			DrainPollInterval: time.Millisecond,
			DrainTimeout:      50 * time.Millisecond,
			MonitorInterval:   time.Hour,
		})
	require.NoError(t, ctrl.LoadDefaults(context.Background(), manager.Defaults{
		Crate: config.CrateConfig{CrateID: 1, AMCSlots: slots},
		Scan:  config.ScanConfig{Type: "latency", Min: 5, Step: 3},
	}))
	log := &memoryLog{}
	ctrl.SetRecorder(log)
	t.Cleanup(func() { _ = ctrl.ExecuteCommand(context.Background(), manager.CommandReset) })

	hasher := auth.NewPasswordHasherWithParams(1024, 1, 1)
	users := []config.UserConfig{}
	passwords := map[string]string{"ada": "admin", "otto": "operator", "vic": "viewer"}
	for name, role := range passwords {
		hash, err := hasher.HashPassword(name + "-pw")
		require.NoError(t, err)
		users = append(users, config.UserConfig{Username: name, Role: role, PasswordHash: hash})
	}
	authService := auth.NewAuthService(config.AuthConfig{AccessTokenTTL: time.Minute, Users: users}, hasher, nil, logger)

	lm := &fakeLifecycle{ctrl: ctrl, log: log, registry: reg}
	srv := NewServer(&config.Config{}, lm, logger, websocket.NewHub(logger, authService), authService)

	ts := &testServer{handler: srv.Handler(), factory: factory, ctrl: ctrl, tokens: map[string]string{}}
	for name := range passwords {
		w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: name, Password: name + "-pw"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Bearer", resp.TokenType)
		ts.tokens[name] = resp.AccessToken
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[user])
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	return body["error"].(map[string]interface{})["code"].(string)
}

func command(cmd string) map[string]string {
	return map[string]string{"command": cmd}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, "2")

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(manager.StateHalted), decode(t, w)["crate_state"])

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/crate/command", "otto", command("initialize")).Code)

	w = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "crate_transitions_total"))
}

func TestLoginRejected(t *testing.T) {
	ts := newTestServer(t, "2")

	w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "otto", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_401", errorCode(t, w))

	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "otto"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/auth/me", "otto", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "otto", decode(t, w)["username"])
}

func TestCommandLifecycle(t *testing.T) {
	ts := newTestServer(t, "2,4")

	for _, cmd := range []string{"initialize", "configure", "start", "pause", "resume", "stop"} {
		w := ts.do(t, http.MethodPost, "/api/v1/crate/command", "otto", command(cmd))
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", cmd, w.Body.String())
	}
	assert.Equal(t, manager.StateStopped, ts.ctrl.State())

	w := ts.do(t, http.MethodGet, "/api/v1/crate/status", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st manager.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, manager.StateStopped, st.State)
	assert.Equal(t, 8, st.Scan.Latency)

	w = ts.do(t, http.MethodGet, "/api/v1/crate/transitions?limit=2", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["count"])
	first := body["transitions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "stop", first["command"])
}

func TestCommandErrors(t *testing.T) {
	ts := newTestServer(t, "2,4")

	tests := []struct {
		name string
		user string
		body interface{}
		want int
		code string
	}{
		{"viewer may not command", "vic", command("initialize"), http.StatusForbidden, "AUTH_403"},
		{"missing command", "otto", map[string]string{}, http.StatusBadRequest, "CRATE_400"},
		{"unknown command", "otto", command("explode"), http.StatusBadRequest, "CRATE_400"},
		{"invalid transition", "otto", command("start"), http.StatusConflict, "CRATE_409"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/crate/command", tt.user, tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}

	w := ts.do(t, http.MethodPost, "/api/v1/crate/command", "", command("initialize"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnreachableSlotReportsFailure(t *testing.T) {
	ts := newTestServer(t, "1,3")
	ts.factory.Session("shelf01.amc03").SetConnected(false)

	w := ts.do(t, http.MethodPost, "/api/v1/crate/command", "otto", command("initialize"))
	require.Equal(t, http.StatusBadGateway, w.Code)
	details := decode(t, w)["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.EqualValues(t, 3, details["slot"])
	assert.Equal(t, manager.StateFailed, ts.ctrl.State())
}

func TestSlotEndpoints(t *testing.T) {
	ts := newTestServer(t, "2")
	ts.factory.Session("shelf01.amc02").SetTrackingData(0, []uint32{0xdeadbeef, 1})

	w := ts.do(t, http.MethodGet, "/api/v1/slots/2/infospace", "vic", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/crate/command", "otto", command("initialize")).Code)

	w = ts.do(t, http.MethodGet, "/api/v1/slots", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["slots"], crate.MaxSlots)

	w = ts.do(t, http.MethodGet, "/api/v1/slots/2", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["bound"])

	w = ts.do(t, http.MethodGet, "/api/v1/slots/2/infospace", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["fields"], len(infospace.FieldNames()))

	w = ts.do(t, http.MethodGet, "/api/v1/slots/5/infospace", "vic", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/slots/x/infospace", "vic", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/slots/2/fifo", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"0xdeadbeef", "0x00000001"}, decode(t, w)["hex"])

	for _, path := range []string{"/api/v1/slots/5/fifo", "/api/v1/slots/13/fifo", "/api/v1/slots/0/fifo"} {
		w = ts.do(t, http.MethodGet, path, "vic", nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Empty(t, decode(t, w)["words"], path)
	}
}

func TestLoadDefaults(t *testing.T) {
	ts := newTestServer(t, "2")

	req := manager.Defaults{
		Crate: config.CrateConfig{CrateID: 1, AMCSlots: "1-3"},
		Scan:  config.ScanConfig{Type: "threshold", Min: 10, Step: 2},
	}

	w := ts.do(t, http.MethodPut, "/api/v1/crate/defaults", "otto", req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/crate/defaults", "ada", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0x007", decode(t, w)["enable_mask"])

	w = ts.do(t, http.MethodGet, "/api/v1/crate/defaults", "vic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got manager.Defaults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, req, got)

	bad := req
	bad.Scan.Type = "sideways"
	w = ts.do(t, http.MethodPut, "/api/v1/crate/defaults", "ada", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.factory.Add("shelf01.amc01", nil)
	ts.factory.Add("shelf01.amc03", nil)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/crate/command", "otto", command("initialize")).Code)
	w = ts.do(t, http.MethodPut, "/api/v1/crate/defaults", "ada", req)
	assert.Equal(t, http.StatusConflict, w.Code)
}
