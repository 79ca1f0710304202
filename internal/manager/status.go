package manager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/crate"
	"github.com/KevinKickass/CrateManager/internal/hardware"
	"github.com/KevinKickass/CrateManager/internal/infospace"
	"github.com/KevinKickass/CrateManager/internal/monitor"
)

// FIFO dump parameters: words are read from the tracking FIFO of link 0.
const (
	FIFODumpWords = 24
	fifoDumpLink  = 0
)

// SlotStatus is the view of one slot in the crate status.
type SlotStatus struct {
	Slot         int                `json:"slot"`
	Present      bool               `json:"present"`
	Bound        bool               `json:"bound"`
	CrateID      int                `json:"crate_id,omitempty"`
	Device       string             `json:"device,omitempty"`
	URN          string             `json:"urn,omitempty"`
	Endpoint     *hardware.Endpoint `json:"endpoint,omitempty"`
	AddressTable string             `json:"address_table,omitempty"`
	Connected    bool               `json:"connected"`
	State        State              `json:"state,omitempty"`
	Fields       int                `json:"fields,omitempty"`
	Monitor      *monitor.Status    `json:"monitor,omitempty"`
}

// ScanStatus is the scan configuration with the current stepped values.
type ScanStatus struct {
	Mode         string `json:"mode"`
	Min          int    `json:"min"`
	Step         int    `json:"step"`
	Latency      int    `json:"latency"`
	ThresholdVT1 int    `json:"threshold_vt1"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State        `json:"state"`
	FailedFrom State        `json:"failed_from,omitempty"`
	FailedSlot int          `json:"failed_slot,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	LastChange time.Time    `json:"last_change"`
	EnableMask string       `json:"enable_mask"`
	Scan       ScanStatus   `json:"scan"`
	Slots      []SlotStatus `json:"slots"`
	LastReport *Report      `json:"last_report,omitempty"`
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		State:      c.state,
		FailedFrom: c.failedFrom,
		FailedSlot: c.failedSlot,
		LastError:  c.lastError,
		LastChange: c.lastChange,
		EnableMask: c.table.Mask().String(),
		Scan: ScanStatus{
			Mode:         c.scanState.Mode.String(),
			Min:          c.scanState.Min,
			Step:         c.scanState.Step,
			Latency:      c.scanState.Latency,
			ThresholdVT1: c.scanState.ThresholdVT1,
		},
		LastReport: c.lastReport,
	}

	slots := c.table.Slots()
	bindings := make(map[int]*crate.Binding)
	st.Slots = make([]SlotStatus, len(slots))
	for i, s := range slots {
		ss := SlotStatus{Slot: s.Index()}
		var rec *crate.Record
		switch s := s.(type) {
		case crate.Present:
			rec = &s.Record
		case crate.Bound:
			rec = &s.Record
			ss.Bound = true
			bindings[i] = s.Binding
		}
		if rec != nil {
			ep := rec.Endpoint
			ss.Present = true
			ss.CrateID = rec.CrateID
			ss.Device = rec.DeviceName()
			ss.URN = rec.URN()
			ss.Endpoint = &ep
			ss.AddressTable = rec.AddressTable
			ss.State = c.slotStates[rec.SlotID]
		}
		st.Slots[i] = ss
	}
	c.mu.RUnlock()

	// Guards may be held by a sampling pass; query them without c.mu.
	for i, b := range bindings {
		ms := b.Monitor.Status()
		st.Slots[i].Monitor = &ms
		st.Slots[i].Connected = b.Guard.Connected()
		st.Slots[i].Fields = b.Namespace.Len()
	}

	return st
}

// Defaults returns the configuration snapshot last loaded.
func (c *Controller) Defaults() Defaults {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

// Fields returns the namespace of a present slot.
func (c *Controller) Fields(slot int) ([]infospace.Field, error) {
	c.mu.RLock()
	s, ok := c.table.At(slot)
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}

	var urn string
	switch s := s.(type) {
	case crate.Present:
		urn = s.URN()
	case crate.Bound:
		urn = s.URN()
	default:
		return nil, fmt.Errorf("%w: slot %d is not present", ErrInvalidSlot, slot)
	}

	ns, ok := c.registry.Get(urn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, urn)
	}
	return ns.Snapshot(), nil
}

// DumpFIFO reads up to FIFODumpWords words from the tracking FIFO of the
// card in slot (1-based). It never fails: an invalid or unbound slot or a
// read error yields an empty result.
func (c *Controller) DumpFIFO(ctx context.Context, slot int) []uint32 {
	words := []uint32{}

	if slot < 1 || slot > crate.MaxSlots {
		c.logger.Warn("FIFO dump on invalid slot",
			zap.Int("slot", slot),
			zap.Error(ErrInvalidSlot))
		return words
	}

	b := c.binding(slot)
	if b == nil {
		c.logger.Warn("FIFO dump on unbound slot", zap.Int("slot", slot))
		return words
	}

	err := b.Guard.Do(func(s hardware.Session) error {
		data, err := s.TrackingData(ctx, fifoDumpLink, FIFODumpWords)
		if err != nil {
			return err
		}
		words = append(words, data...)
		return nil
	})
	if err != nil {
		c.logger.Warn("FIFO dump failed",
			zap.Int("slot", slot),
			zap.Error(err))
		return []uint32{}
	}

	return words
}
