package hardware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/modbus"
)

// Factory opens AMC sessions over Modbus/TCP.
type Factory struct {
	tables      *TableLoader
	connections *ConnectionFile
	timeout     time.Duration
	logger      *zap.Logger
}

func NewFactory(tables *TableLoader, connections *ConnectionFile, timeout time.Duration, logger *zap.Logger) *Factory {
	return &Factory{
		tables:      tables,
		connections: connections,
		timeout:     timeout,
		logger:      logger,
	}
}

// Open connects to the card called name. An entry for name in the
// connection file takes precedence over endpoint and addressTable. A card
// that cannot be reached yields a session reporting not connected together
// with an error wrapping ErrConnection.
func (f *Factory) Open(ctx context.Context, name string, endpoint Endpoint, addressTable string) (Session, error) {
	if ep, table, ok := f.connections.Resolve(name); ok {
		endpoint = ep
		if table != "" {
			addressTable = table
		}
		f.logger.Debug("Endpoint from connection file", zap.String("device", name))
	}

	table, err := f.tables.Load(addressTable)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", name, err)
	}

	address, err := endpoint.Dial()
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", name, err)
	}

	client := modbus.NewClient(address, f.timeout)
	session := NewAMC(name, client, endpoint.UnitID, table)

	if err := client.Connect(ctx); err != nil {
		f.logger.Warn("Card not reachable",
			zap.String("device", name),
			zap.String("address", address),
			zap.Error(err))
		return session, fmt.Errorf("%w: device %s at %s: %v", ErrConnection, name, address, err)
	}

	f.logger.Info("Card connected",
		zap.String("device", name),
		zap.String("address", address),
		zap.String("address_table", table.Info.ID))

	return session, nil
}
