package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KevinKickass/CrateManager/internal/crate"
	"github.com/KevinKickass/CrateManager/internal/hardware"
)

// SlotResult is the outcome of one slot in a fan-out.
type SlotResult struct {
	Slot    int    `json:"slot"`
	Device  string `json:"device"`
	State   State  `json:"state,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates the per-slot results of one transition in ascending
// slot order.
type Report struct {
	Command Command      `json:"command"`
	Results []SlotResult `json:"results"`
}

// Failed returns the slot whose failure aborted the fan-out, or 0.
func (r *Report) Failed() int {
	for _, res := range r.Results {
		if res.Error != "" && res.State == "" {
			return res.Slot
		}
	}
	return 0
}

type policy int

const (
	// abortOnFailure skips the remaining slots after the first failure.
	abortOnFailure policy = iota
	// tolerateFailures logs failures and carries on.
	tolerateFailures
)

type slotFunc func(ctx context.Context, rec crate.Record) error

// fanOut runs fn for every present slot in ascending order. Slots that
// succeed record to as their state; with abortOnFailure the first failure
// is returned as a *SlotError and the slots after it are left untouched.
func (c *Controller) fanOut(ctx context.Context, cmd Command, to State, pol policy, fn slotFunc) (*Report, error) {
	c.mu.RLock()
	records := c.table.Records()
	c.mu.RUnlock()

	report := &Report{Command: cmd, Results: make([]SlotResult, 0, len(records))}
	var failed *SlotError

	for _, rec := range records {
		res := SlotResult{Slot: rec.SlotID, Device: rec.DeviceName()}

		if failed != nil {
			res.Skipped = true
			report.Results = append(report.Results, res)
			continue
		}

		c.logger.Debug("Slot transition",
			zap.String("command", string(cmd)),
			zap.Int("slot", rec.SlotID),
			zap.String("device", res.Device))

		err := fn(ctx, rec)
		if err != nil {
			res.Error = err.Error()
			if pol == abortOnFailure {
				failed = asSlotError(rec.SlotID, cmd, err)
				report.Results = append(report.Results, res)
				continue
			}
			c.logger.Warn("Slot fault tolerated",
				zap.String("command", string(cmd)),
				zap.Int("slot", rec.SlotID),
				zap.Error(err))
		}

		res.State = to
		c.setSlotState(rec.SlotID, to)
		report.Results = append(report.Results, res)
	}

	c.mu.Lock()
	c.lastReport = report
	c.mu.Unlock()

	if failed != nil {
		return report, failed
	}
	return report, nil
}

func asSlotError(slot int, cmd Command, err error) *SlotError {
	var se *SlotError
	if errors.As(err, &se) {
		return se
	}
	return &SlotError{Slot: slot, Op: string(cmd), Err: err}
}

// binding returns the hardware bound to slot, or nil.
func (c *Controller) binding(slot int) *crate.Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.table.At(slot)
	if !ok {
		return nil
	}
	if b, ok := s.(crate.Bound); ok {
		return b.Binding
	}
	return nil
}

// withSession runs fn on the slot's session under its guard. A missing
// binding or a dropped connection is a hardware fault.
func (c *Controller) withSession(slot int, fn func(hardware.Session) error) error {
	b := c.binding(slot)
	if b == nil {
		return fmt.Errorf("%w: slot %d has no session", ErrHardwareFault, slot)
	}
	return b.Guard.Do(func(s hardware.Session) error {
		if !s.IsConnected() {
			return fmt.Errorf("%w: %s not connected", ErrHardwareFault, s.Name())
		}
		return fn(s)
	})
}
