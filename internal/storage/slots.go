package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/CrateManager/internal/config"
)

// LoadSlotConfigs returns the stored connection parameters of a crate's
// slots in ascending slot order.
func (p *PostgresClient) LoadSlotConfigs(ctx context.Context, crateID int) ([]config.SlotConfig, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT slot, slot_crate_id, control_hub_address, control_hub_port,
			ipbus_protocol, device_ip_address, ipbus_port, address_table, sbit_source
		FROM crate_slots
		WHERE crate_id = $1
		ORDER BY slot
	`, crateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	slots := make([]config.SlotConfig, 0)
	for rows.Next() {
		var (
			sc          config.SlotConfig
			slotCrateID *int32
		)
		err := rows.Scan(&sc.Slot, &slotCrateID, &sc.ControlHubAddress, &sc.ControlHubPort,
			&sc.IPBusProtocol, &sc.DeviceIPAddress, &sc.IPBusPort, &sc.AddressTable, &sc.SbitSource)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if slotCrateID != nil {
			id := int(*slotCrateID)
			sc.CrateID = &id
		}
		slots = append(slots, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read slots: %w", err)
	}

	return slots, nil
}

// SaveSlotConfig inserts or replaces the connection parameters of one slot.
func (p *PostgresClient) SaveSlotConfig(ctx context.Context, crateID int, sc config.SlotConfig) error {
	var slotCrateID *int32
	if sc.CrateID != nil {
		id := int32(*sc.CrateID)
		slotCrateID = &id
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO crate_slots (crate_id, slot, slot_crate_id, control_hub_address, control_hub_port,
			ipbus_protocol, device_ip_address, ipbus_port, address_table, sbit_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (crate_id, slot)
		DO UPDATE SET
			slot_crate_id = EXCLUDED.slot_crate_id,
			control_hub_address = EXCLUDED.control_hub_address,
			control_hub_port = EXCLUDED.control_hub_port,
			ipbus_protocol = EXCLUDED.ipbus_protocol,
			device_ip_address = EXCLUDED.device_ip_address,
			ipbus_port = EXCLUDED.ipbus_port,
			address_table = EXCLUDED.address_table,
			sbit_source = EXCLUDED.sbit_source,
			updated_at = NOW()
	`, crateID, sc.Slot, slotCrateID, sc.ControlHubAddress, sc.ControlHubPort,
		sc.IPBusProtocol, sc.DeviceIPAddress, sc.IPBusPort, sc.AddressTable, sc.SbitSource)
	if err != nil {
		return fmt.Errorf("failed to save slot %d: %w", sc.Slot, err)
	}
	return nil
}

// MergeSlotConfigs overlays stored slot entries on the file configuration.
// A stored entry replaces the file entry for the same slot.
func MergeSlotConfigs(base config.CrateConfig, stored []config.SlotConfig) config.CrateConfig {
	merged := base
	merged.Slots = make([]config.SlotConfig, 0, len(base.Slots)+len(stored))

	override := make(map[int]config.SlotConfig, len(stored))
	for _, sc := range stored {
		override[sc.Slot] = sc
	}
	for _, sc := range base.Slots {
		if o, ok := override[sc.Slot]; ok {
			sc = o
			delete(override, sc.Slot)
		}
		merged.Slots = append(merged.Slots, sc)
	}
	for _, sc := range stored {
		if _, ok := override[sc.Slot]; ok {
			merged.Slots = append(merged.Slots, sc)
		}
	}

	return merged
}
