package crate

import (
	"fmt"

	"github.com/KevinKickass/CrateManager/internal/config"
	"github.com/KevinKickass/CrateManager/internal/hardware"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/monitor"
)

// UnsetCrateID marks a record whose crate has not been assigned.
const UnsetCrateID = -1

// Record is the identity and connection parameters of a present card.
type Record struct {
	CrateID      int               `json:"crate_id"`
	SlotID       int               `json:"slot_id"`
	Endpoint     hardware.Endpoint `json:"endpoint"`
	AddressTable string            `json:"address_table"`
	SbitSource   int               `json:"sbit_source"`
}

// DeviceName is the card's name in connection files and logs.
func (r Record) DeviceName() string {
	return fmt.Sprintf("shelf%02d.amc%02d", r.CrateID, r.SlotID)
}

// URN names the card's configuration namespace.
func (r Record) URN() string {
	return "urn:crate:hw:" + r.DeviceName()
}

// Binding is the hardware owned for a bound slot.
type Binding struct {
	Guard     *hardware.Guard
	Monitor   *monitor.Monitor
	Namespace *infospace.Namespace
}

// Slot is one of Absent, Present or Bound.
type Slot interface {
	// Index is the 1-based slot number.
	Index() int
	isSlot()
}

// Absent is a slot not expected to hold a card.
type Absent struct {
	Slot int
}

// Present is a slot expected to hold a card that has no hardware bound.
type Present struct {
	Record
}

// Bound is a present slot with a session and monitor.
type Bound struct {
	Record
	Binding *Binding
}

func (a Absent) Index() int  { return a.Slot }
func (p Present) Index() int { return p.SlotID }
func (b Bound) Index() int   { return b.SlotID }

func (Absent) isSlot()  {}
func (Present) isSlot() {}
func (Bound) isSlot()   {}

// Table holds every slot of the crate. It is not safe for concurrent use;
// the lifecycle controller serialises access.
type Table struct {
	mask  EnableMask
	slots [MaxSlots]Slot
}

// NewTable returns a table with every slot absent.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = Absent{Slot: i + 1}
	}
	return t
}

// Derive builds the slot table from a configuration snapshot. Slots in the
// enable list become Present with slot id index+1; a per-slot crate id
// overrides the crate default.
func Derive(cfg config.CrateConfig) (*Table, error) {
	mask, err := ParseEnableList(cfg.AMCSlots)
	if err != nil {
		return nil, fmt.Errorf("amc_slots: %w", err)
	}

	t := NewTable()
	t.mask = mask

	for _, slot := range mask.Slots() {
		sc, _ := cfg.SlotBySlot(slot)

		crateID := cfg.CrateID
		if sc.CrateID != nil {
			crateID = *sc.CrateID
		}
		if crateID <= UnsetCrateID {
			return nil, fmt.Errorf("slot %d: crate id not set", slot)
		}

		t.slots[slot-1] = Present{Record: Record{
			CrateID: crateID,
			SlotID:  slot,
			Endpoint: hardware.Endpoint{
				HostAddress:   sc.ControlHubAddress,
				HostPort:      sc.ControlHubPort,
				Protocol:      sc.IPBusProtocol,
				DeviceAddress: sc.DeviceIPAddress,
				DevicePort:    sc.IPBusPort,
				UnitID:        uint8(slot),
			},
			AddressTable: sc.AddressTable,
			SbitSource:   sc.SbitSource,
		}}
	}

	return t, nil
}

func (t *Table) Mask() EnableMask {
	return t.mask
}

// At returns the slot with 1-based number slot.
func (t *Table) At(slot int) (Slot, bool) {
	if slot < 1 || slot > MaxSlots {
		return nil, false
	}
	return t.slots[slot-1], true
}

// Slots returns all slots in ascending order.
func (t *Table) Slots() []Slot {
	out := make([]Slot, MaxSlots)
	copy(out, t.slots[:])
	return out
}

// Records returns the records of present and bound slots in ascending order.
func (t *Table) Records() []Record {
	var records []Record
	for _, s := range t.slots {
		switch s := s.(type) {
		case Present:
			records = append(records, s.Record)
		case Bound:
			records = append(records, s.Record)
		}
	}
	return records
}

// Bindings returns the bound slots in ascending order.
func (t *Table) Bindings() []Bound {
	var bound []Bound
	for _, s := range t.slots {
		if b, ok := s.(Bound); ok {
			bound = append(bound, b)
		}
	}
	return bound
}

// Bind attaches hardware to a present slot.
func (t *Table) Bind(slot int, b *Binding) error {
	s, ok := t.At(slot)
	if !ok {
		return fmt.Errorf("slot %d out of range", slot)
	}
	p, ok := s.(Present)
	if !ok {
		return fmt.Errorf("slot %d is %T, not present", slot, s)
	}
	t.slots[slot-1] = Bound{Record: p.Record, Binding: b}
	return nil
}

// Unbind detaches the binding of a bound slot, returning it to Present.
func (t *Table) Unbind(slot int) (*Binding, bool) {
	s, ok := t.At(slot)
	if !ok {
		return nil, false
	}
	b, ok := s.(Bound)
	if !ok {
		return nil, false
	}
	t.slots[slot-1] = Present{Record: b.Record}
	return b.Binding, true
}
