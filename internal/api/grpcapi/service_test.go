package grpcapi

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/KevinKickass/CrateManager/internal/auth"
	"github.com/KevinKickass/CrateManager/internal/config"
	"github.com/KevinKickass/CrateManager/internal/hardware/hardwaretest"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/manager"
)

type fakeAuth struct{}

var _ Authenticator = fakeAuth{}

func (fakeAuth) LoginUser(_ context.Context, username, password, _, _ string) (string, time.Time, error) {
	if password != username+"-pw" {
		return "", time.Time{}, auth.ErrInvalidCredentials
	}
	return username, time.Now().Add(time.Minute), nil
}

// Tokens are the role name.
func (fakeAuth) ValidateToken(token string) (*auth.Identity, error) {
	switch token {
	case "operator", "viewer":
		return &auth.Identity{Username: token, Role: token, Permissions: auth.RolePermissions(token)}, nil
	}
	return nil, auth.ErrInvalidToken
}

type testService struct {
	ctrl     *manager.Controller
	factory  *hardwaretest.Factory
	streamer *StatusStreamer
	dial     func(token string) *Client
}

func newTestService(t *testing.T, slots ...int) *testService {
	t.Helper()
	logger := zap.NewNop()

	factory := hardwaretest.NewFactory()
	list := ""
	for i, slot := range slots {
		factory.Add(fmt.Sprintf("shelf01.amc%02d", slot), nil)
		if i > 0 {
			list += ","
		}
		list += fmt.Sprint(slot)
	}

	ctrl := manager.NewController(logger, factory, infospace.NewRegistry(),
		manager.NewMetrics(prometheus.NewRegistry()), nil, manager.Options{
			DrainPollInterval: time.Millisecond,
			DrainTimeout:      50 * time.Millisecond,
			MonitorInterval:   time.Hour,
		})
	require.NoError(t, ctrl.LoadDefaults(context.Background(), manager.Defaults{
		Crate: config.CrateConfig{CrateID: 1, AMCSlots: list},
		Scan:  config.ScanConfig{Type: "none"},
	}))
	streamer := NewStatusStreamer()
	ctrl.SetNotifier(streamer)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOptions(fakeAuth{}, logger)...)
	Register(srv, NewCrateService(ctrl, fakeAuth{}, streamer, logger))
	go srv.Serve(lis)

	t.Cleanup(func() {
		srv.Stop()
		_ = ctrl.ExecuteCommand(context.Background(), manager.CommandReset)
	})

	dial := func(token string) *Client {
		opts := []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
		if token != "" {
			opts = append(opts, grpc.WithPerRPCCredentials(TokenCredentials(token)))
		}
		conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return NewClient(conn)
	}

	return &testService{ctrl: ctrl, factory: factory, streamer: streamer, dial: dial}
}

func TestLoginAndCommand(t *testing.T) {
	ts := newTestService(t, 2)
	ctx := context.Background()

	_, err := ts.dial("").Login(ctx, "operator", "wrong")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := ts.dial("").Login(ctx, "operator", "operator-pw")
	require.NoError(t, err)

	client := ts.dial(token)
	out, err := client.Command(ctx, "initialize")
	require.NoError(t, err)
	assert.Equal(t, string(manager.StateInitialized), out.GetFields()["state"].GetStringValue())

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(manager.StateInitialized), st.GetFields()["state"].GetStringValue())
	assert.Equal(t, "0x002", st.GetFields()["enable_mask"].GetStringValue())

	fields, err := client.Fields(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, fields.GetFields()["fields"].GetListValue().GetValues(), len(infospace.FieldNames()))
}

func TestErrorCodes(t *testing.T) {
	ts := newTestService(t, 2)
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		call  func(c *Client) error
		want  codes.Code
	}{
		{"no token", "", func(c *Client) error { _, err := c.Status(ctx); return err }, codes.Unauthenticated},
		{"bad token", "intruder", func(c *Client) error { _, err := c.Status(ctx); return err }, codes.Unauthenticated},
		{"viewer command", "viewer", func(c *Client) error { _, err := c.Command(ctx, "initialize"); return err }, codes.PermissionDenied},
		{"unknown command", "operator", func(c *Client) error { _, err := c.Command(ctx, "explode"); return err }, codes.InvalidArgument},
		{"invalid transition", "operator", func(c *Client) error { _, err := c.Command(ctx, "start"); return err }, codes.FailedPrecondition},
		{"fields before initialize", "viewer", func(c *Client) error { _, err := c.Fields(ctx, 2); return err }, codes.NotFound},
		{"fields of absent slot", "viewer", func(c *Client) error { _, err := c.Fields(ctx, 7); return err }, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call(ts.dial(tt.token))))
		})
	}
}

func TestSlotFailureIsAborted(t *testing.T) {
	ts := newTestService(t, 1, 3)
	ts.factory.Session("shelf01.amc03").SetConnected(false)

	_, err := ts.dial("operator").Command(context.Background(), "initialize")
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "slot 3")
}

func TestDumpFIFO(t *testing.T) {
	ts := newTestService(t, 2)
	ctx := context.Background()
	client := ts.dial("operator")

	words, err := client.DumpFIFO(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, words)

	ts.factory.Session("shelf01.amc02").SetTrackingData(0, []uint32{0xcafe0001, 0xcafe0002})
	_, err = client.Command(ctx, "initialize")
	require.NoError(t, err)

	words, err = client.DumpFIFO(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xcafe0001, 0xcafe0002}, words)

	words, err = client.DumpFIFO(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, words)
}

func TestWatchStatus(t *testing.T) {
	ts := newTestService(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := ts.dial("viewer").WatchStatus(ctx)
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, string(manager.StateHalted), first.GetFields()["state"].GetStringValue())

	require.Eventually(t, func() bool { return ts.streamer.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ts.ctrl.ExecuteCommand(context.Background(), manager.CommandInitialize))
	next, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, string(manager.StateInitialized), next.GetFields()["state"].GetStringValue())

	cancel()
	require.Eventually(t, func() bool { return ts.streamer.count() == 0 }, 2*time.Second, 5*time.Millisecond)
}
