package hardware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevinKickass/CrateManager/internal/modbus"
	"github.com/KevinKickass/CrateManager/internal/modbus/modbustest"
)

const testUnit = 1

// Word addresses in the builtin table.
const (
	addrTTCControl   = 42
	addrDAQControl   = 46
	addrDAQStatus    = 48
	addrRunType      = 68
	addrRunParams    = 70
	addrGTX0Count    = 96
	addrGTX0Tracking = 122
	addrMAC          = 10
)

func newTestAMC(t *testing.T) (*AMC, *modbustest.Server) {
	t.Helper()

	srv, err := modbustest.NewServer()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	loader, err := NewTableLoader(nil)
	require.NoError(t, err)
	table, err := loader.Load(BuiltinTable)
	require.NoError(t, err)

	client := modbus.NewClient(srv.Addr(), time.Second)
	require.NoError(t, client.Connect(context.Background()))

	amc := NewAMC("shelf01.amc02", client, testUnit, table)
	t.Cleanup(func() { _ = amc.Close() })
	return amc, srv
}

func TestAMCReadRegister(t *testing.T) {
	amc, srv := newTestAMC(t)
	ctx := context.Background()

	srv.Set32(testUnit, 0, 0x474c4942)
	v, err := amc.ReadRegister(ctx, RegBoardID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x474c4942), v)

	srv.Set32(testUnit, addrMAC, 0x00000800)
	srv.Set32(testUnit, addrMAC+2, 0x30f30012)
	mac, err := amc.ReadRegister(ctx, RegMACAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0000080030f30012), mac)
}

func TestAMCMaskedFields(t *testing.T) {
	amc, srv := newTestAMC(t)
	ctx := context.Background()

	srv.Set32(testUnit, addrDAQStatus, 0x0000000c)
	empty, err := amc.L1AFIFOIsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	srv.Set32(testUnit, addrDAQStatus, 0x00000004)
	empty, err = amc.L1AFIFOIsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestAMCInhibitPreservesNeighbourBits(t *testing.T) {
	amc, srv := newTestAMC(t)
	ctx := context.Background()

	srv.Set32(testUnit, addrTTCControl, 0x00000003)

	require.NoError(t, amc.SetL1AInhibit(ctx, true))
	assert.Equal(t, uint32(0x7), srv.Get32(testUnit, addrTTCControl))

	require.NoError(t, amc.SetL1AInhibit(ctx, false))
	assert.Equal(t, uint32(0x3), srv.Get32(testUnit, addrTTCControl))
}

func TestAMCDAQLinkControl(t *testing.T) {
	amc, srv := newTestAMC(t)
	ctx := context.Background()

	require.NoError(t, amc.EnableDAQLink(ctx))
	assert.Equal(t, uint32(0x2), srv.Get32(testUnit, addrDAQControl))

	require.NoError(t, amc.ResetDAQLink(ctx))
	assert.Equal(t, uint32(0x2), srv.Get32(testUnit, addrDAQControl), "reset bit pulsed back to 0")
}

func TestAMCRunParameters(t *testing.T) {
	amc, srv := newTestAMC(t)
	ctx := context.Background()

	require.NoError(t, amc.SetDAQLinkRunType(ctx, 3))
	assert.Equal(t, uint32(3), srv.Get32(testUnit, addrRunType))

	require.NoError(t, amc.SetDAQLinkRunParameters(ctx, 0xfaac))
	assert.Equal(t, uint32(0xfaac), srv.Get32(testUnit, addrRunParams))

	require.NoError(t, amc.SetDAQLinkRunParameter(ctx, 2, 0x11))
	require.NoError(t, amc.SetDAQLinkRunParameter(ctx, 3, 0x22))
	assert.Equal(t, uint32(0x2211ac), srv.Get32(testUnit, addrRunParams))

	assert.Error(t, amc.SetDAQLinkRunParameter(ctx, 4, 1))
}

func TestAMCWriteReadOnly(t *testing.T) {
	amc, _ := newTestAMC(t)

	err := amc.WriteRegister(context.Background(), RegL1ACount, 1)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestAMCTrackingData(t *testing.T) {
	amc, srv := newTestAMC(t)
	ctx := context.Background()

	for i := uint16(0); i < 32; i++ {
		srv.Set32(testUnit, addrGTX0Tracking+2*i, 0xa0000000|uint32(i))
	}

	srv.Set32(testUnit, addrGTX0Count, 5)
	words, err := amc.TrackingData(ctx, 0, 24)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xa0000000, 0xa0000001, 0xa0000002, 0xa0000003, 0xa0000004}, words)

	srv.Set32(testUnit, addrGTX0Count, 100)
	words, err = amc.TrackingData(ctx, 0, 24)
	require.NoError(t, err)
	assert.Len(t, words, 24)

	words, err = amc.TrackingData(ctx, 0, 64)
	require.NoError(t, err)
	assert.Len(t, words, 32, "capped at fifo depth")

	srv.Set32(testUnit, addrGTX0Count, 0)
	words, err = amc.TrackingData(ctx, 0, 24)
	require.NoError(t, err)
	assert.Empty(t, words)

	_, err = amc.TrackingData(ctx, 2, 24)
	assert.Error(t, err)
}

func TestAMCNotConnected(t *testing.T) {
	amc, srv := newTestAMC(t)
	srv.Close()

	_, err := amc.ReadRegister(context.Background(), RegBoardID)
	require.Error(t, err)
	assert.False(t, amc.IsConnected())

	_, err = amc.ReadRegister(context.Background(), RegBoardID)
	assert.ErrorIs(t, err, ErrNotConnected)
}
