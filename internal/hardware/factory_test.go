package hardware

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/modbus/modbustest"
)

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func newTestFactory(t *testing.T, connections *ConnectionFile) *Factory {
	t.Helper()
	loader, err := NewTableLoader(nil)
	require.NoError(t, err)
	return NewFactory(loader, connections, 200*time.Millisecond, zap.NewNop())
}

func TestFactoryOpen(t *testing.T) {
	srv, err := modbustest.NewServer()
	require.NoError(t, err)
	defer srv.Close()

	host, port := splitAddr(t, srv.Addr())
	srv.Set32(4, 4, 0x00030102)

	factory := newTestFactory(t, nil)
	session, err := factory.Open(context.Background(), "shelf01.amc01",
		Endpoint{DeviceAddress: host, DevicePort: port, UnitID: 4}, "")
	require.NoError(t, err)
	defer session.Close()

	assert.True(t, session.IsConnected())
	assert.Equal(t, "shelf01.amc01", session.Name())

	fw, err := session.ReadRegister(context.Background(), RegFirmwareID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x00030102), fw)
}

func TestFactoryOpenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitAddr(t, ln.Addr().String())
	ln.Close()

	factory := newTestFactory(t, nil)
	session, err := factory.Open(context.Background(), "shelf01.amc03",
		Endpoint{DeviceAddress: host, DevicePort: port}, BuiltinTable)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	require.NotNil(t, session)
	assert.False(t, session.IsConnected())
}

func TestFactoryUnknownAddressTable(t *testing.T) {
	factory := newTestFactory(t, nil)
	_, err := factory.Open(context.Background(), "shelf01.amc03",
		Endpoint{DeviceAddress: "127.0.0.1"}, "missing")
	assert.Error(t, err)
}

func TestFactoryPrefersConnectionFile(t *testing.T) {
	srv, err := modbustest.NewServer()
	require.NoError(t, err)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "connections.yaml")
	doc := fmt.Sprintf(`connections:
  shelf01.amc05:
    uri: modbus-tcp://%s
    address_table: builtin:amc
    unit_id: 2
`, srv.Addr())
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	connections, err := LoadConnectionFile(path)
	require.NoError(t, err)

	factory := newTestFactory(t, connections)
	session, err := factory.Open(context.Background(), "shelf01.amc05",
		Endpoint{DeviceAddress: "192.0.2.1", DevicePort: 1}, "missing")
	require.NoError(t, err)
	defer session.Close()
	assert.True(t, session.IsConnected())
}

func TestEndpointDial(t *testing.T) {
	tests := []struct {
		name    string
		ep      Endpoint
		want    string
		wantErr bool
	}{
		{"default protocol", Endpoint{DeviceAddress: "10.0.0.5"}, "10.0.0.5:502", false},
		{"tcp port", Endpoint{Protocol: ProtocolModbusTCP, DeviceAddress: "10.0.0.5", DevicePort: 1502}, "10.0.0.5:1502", false},
		{"hub", Endpoint{Protocol: ProtocolModbusHub, HostAddress: "hub", HostPort: 10203, DeviceAddress: "10.0.0.5"}, "hub:10203", false},
		{"no device", Endpoint{Protocol: ProtocolModbusTCP}, "", true},
		{"no hub", Endpoint{Protocol: ProtocolModbusHub}, "", true},
		{"unknown", Endpoint{Protocol: "ipbusudp-2.0", DeviceAddress: "x"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ep.Dial()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConnection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectionEntryEndpoint(t *testing.T) {
	ep, err := ConnectionEntry{URI: "modbus-hub://hub.local:10203", Device: "192.168.0.170", UnitID: 3}.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, Endpoint{
		Protocol:      ProtocolModbusHub,
		HostAddress:   "hub.local",
		HostPort:      10203,
		DeviceAddress: "192.168.0.170",
		UnitID:        3,
	}, ep)

	_, err = ConnectionEntry{URI: "chtcp-2.0://hub:10203"}.Endpoint()
	assert.Error(t, err)

	_, err = ConnectionEntry{URI: "modbus-tcp://nohost"}.Endpoint()
	assert.Error(t, err)
}

func TestLoadConnectionFileRejectsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connections:\n  a:\n    uri: udp://x:1\n"), 0o644))

	_, err := LoadConnectionFile(path)
	assert.Error(t, err)

	var nilFile *ConnectionFile
	_, _, ok := nilFile.Resolve("a")
	assert.False(t, ok)
}
