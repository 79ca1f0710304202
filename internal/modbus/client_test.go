package modbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/CrateManager/internal/modbus"
	"github.com/KevinKickass/CrateManager/internal/modbus/modbustest"
)

func newConnectedClient(t *testing.T) (*modbus.Client, *modbustest.Server) {
	t.Helper()

	srv, err := modbustest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := modbus.NewClient(srv.Addr(), time.Second)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	return client, srv
}

func TestClientReadHoldingRegisters(t *testing.T) {
	client, srv := newConnectedClient(t)
	srv.Set(3, 0x10, 0xbeef)
	srv.Set(3, 0x11, 0x0042)

	values, err := client.ReadHoldingRegisters(context.Background(), 3, 0x10, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0xbeef, 0x0042}, values)
}

func TestClientWriteRegisters(t *testing.T) {
	client, srv := newConnectedClient(t)
	ctx := context.Background()

	require.NoError(t, client.WriteSingleRegister(ctx, 1, 0x20, 0x1234))
	assert.Equal(t, uint16(0x1234), srv.Get(1, 0x20))

	require.NoError(t, client.WriteMultipleRegisters(ctx, 1, 0x30, []uint16{0xaaaa, 0x5555}))
	assert.Equal(t, uint32(0xaaaa5555), srv.Get32(1, 0x30))
	assert.Equal(t, 2, srv.Writes())
}

func TestClientRejectsBadQuantity(t *testing.T) {
	client, _ := newConnectedClient(t)

	_, err := client.ReadHoldingRegisters(context.Background(), 1, 0, 0)
	assert.Error(t, err)

	_, err = client.ReadHoldingRegisters(context.Background(), 1, 0, modbus.MaxReadQuantity+1)
	assert.Error(t, err)
}

func TestClientNotConnected(t *testing.T) {
	client := modbus.NewClient("127.0.0.1:1", 50*time.Millisecond)
	assert.False(t, client.IsConnected())

	_, err := client.ReadHoldingRegisters(context.Background(), 1, 0, 1)
	assert.Error(t, err)
}

func TestClientDropsConnectionWhenServerGoesAway(t *testing.T) {
	client, srv := newConnectedClient(t)
	srv.Close()

	_, err := client.ReadHoldingRegisters(context.Background(), 1, 0, 1)
	require.Error(t, err)
	assert.False(t, client.IsConnected())
}
