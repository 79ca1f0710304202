package hardware

import (
	"context"
	"fmt"

	"github.com/KevinKickass/CrateManager/internal/modbus"
)

// AMC is a Session to one AMC card behind a Modbus/TCP bridge. Register
// names resolve through the card's address table.
type AMC struct {
	name   string
	client *modbus.Client
	unitID uint8
	table  *AddressTable
}

func NewAMC(name string, client *modbus.Client, unitID uint8, table *AddressTable) *AMC {
	return &AMC{
		name:   name,
		client: client,
		unitID: unitID,
		table:  table,
	}
}

var _ Session = (*AMC)(nil)

func (a *AMC) Name() string {
	return a.name
}

func (a *AMC) IsConnected() bool {
	return a.client.IsConnected()
}

func (a *AMC) Close() error {
	return a.client.Close()
}

func (a *AMC) ReadRegister(ctx context.Context, name string) (uint64, error) {
	reg, err := a.table.Lookup(name)
	if err != nil {
		return 0, err
	}
	if reg.Kind != KindRegister {
		return 0, fmt.Errorf("%s is a %s, not a register", name, reg.Kind)
	}

	raw, err := a.readRaw(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return (raw & reg.Mask) >> reg.Shift(), nil
}

// WriteRegister writes value into the field called name. Fields narrower
// than their register are updated read-modify-write.
func (a *AMC) WriteRegister(ctx context.Context, name string, value uint64) error {
	reg, err := a.table.Lookup(name)
	if err != nil {
		return err
	}
	if reg.Access != AccessReadWrite || reg.Kind != KindRegister {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	field := (value << reg.Shift()) & reg.Mask
	if reg.Mask != reg.FullMask() {
		current, err := a.readRaw(ctx, reg)
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		field |= current &^ reg.Mask
	}

	if err := a.writeRaw(ctx, reg, field); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (a *AMC) ResetL1ACount(ctx context.Context) error {
	return a.WriteRegister(ctx, RegL1ACountReset, 1)
}

func (a *AMC) ResetCalPulseCount(ctx context.Context) error {
	return a.WriteRegister(ctx, RegCalPulseCountReset, 1)
}

// ResetDAQLink pulses the DAQ reset bit.
func (a *AMC) ResetDAQLink(ctx context.Context) error {
	if err := a.WriteRegister(ctx, RegDAQReset, 1); err != nil {
		return err
	}
	return a.WriteRegister(ctx, RegDAQReset, 0)
}

func (a *AMC) EnableDAQLink(ctx context.Context) error {
	return a.WriteRegister(ctx, RegDAQEnable, 1)
}

func (a *AMC) SetL1AInhibit(ctx context.Context, inhibit bool) error {
	var v uint64
	if inhibit {
		v = 1
	}
	return a.WriteRegister(ctx, RegL1AInhibit, v)
}

func (a *AMC) SetDAQLinkRunType(ctx context.Context, runType uint32) error {
	return a.WriteRegister(ctx, RegDAQRunType, uint64(runType))
}

func (a *AMC) SetDAQLinkRunParameter(ctx context.Context, index int, value uint8) error {
	if index < 1 || index > 3 {
		return fmt.Errorf("run parameter index %d out of range 1..3", index)
	}
	return a.WriteRegister(ctx, RegRunParam(index), uint64(value))
}

func (a *AMC) SetDAQLinkRunParameters(ctx context.Context, params uint32) error {
	return a.WriteRegister(ctx, RegDAQRunParams, uint64(params))
}

func (a *AMC) L1AFIFOIsEmpty(ctx context.Context) (bool, error) {
	v, err := a.ReadRegister(ctx, RegL1AFIFOEmpty)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// TrackingData reads the fill level of the link's tracking FIFO and then
// burst-reads at most maxWords words from the FIFO window.
func (a *AMC) TrackingData(ctx context.Context, link int, maxWords int) ([]uint32, error) {
	if link < 0 || link >= NumLinks {
		return nil, fmt.Errorf("link %d out of range", link)
	}

	fifo, err := a.table.Lookup(RegLink(link, "TRACKING_DATA"))
	if err != nil {
		return nil, err
	}
	if fifo.Kind != KindFIFO {
		return nil, fmt.Errorf("%s is not a fifo", fifo.Name)
	}

	count, err := a.ReadRegister(ctx, RegLink(link, "TRACKING_COUNT"))
	if err != nil {
		return nil, err
	}

	n := maxWords
	if int(count) < n {
		n = int(count)
	}
	if fifo.Depth < n {
		n = fifo.Depth
	}
	if n <= 0 {
		return []uint32{}, nil
	}

	if !a.client.IsConnected() {
		return nil, ErrNotConnected
	}
	quantity := uint16(n * fifo.Words)
	regs, err := a.client.ReadHoldingRegisters(ctx, a.unitID, fifo.Address, quantity)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fifo.Name, err)
	}

	words := make([]uint32, n)
	for i := range words {
		var w uint64
		for _, r := range regs[i*fifo.Words : (i+1)*fifo.Words] {
			w = w<<16 | uint64(r)
		}
		words[i] = uint32(w)
	}
	return words, nil
}

func (a *AMC) readRaw(ctx context.Context, reg *Register) (uint64, error) {
	if !a.client.IsConnected() {
		return 0, ErrNotConnected
	}

	regs, err := a.client.ReadHoldingRegisters(ctx, a.unitID, reg.Address, uint16(reg.Words))
	if err != nil {
		return 0, err
	}

	var raw uint64
	for _, r := range regs {
		raw = raw<<16 | uint64(r)
	}
	return raw, nil
}

func (a *AMC) writeRaw(ctx context.Context, reg *Register, raw uint64) error {
	if !a.client.IsConnected() {
		return ErrNotConnected
	}

	values := make([]uint16, reg.Words)
	for i := reg.Words - 1; i >= 0; i-- {
		values[i] = uint16(raw)
		raw >>= 16
	}

	if len(values) == 1 {
		return a.client.WriteSingleRegister(ctx, a.unitID, reg.Address, values[0])
	}
	return a.client.WriteMultipleRegisters(ctx, a.unitID, reg.Address, values)
}
