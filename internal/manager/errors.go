package manager

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/CrateManager/internal/scan"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrHardwareFault is a card found disconnected in the middle of a transition.
	ErrHardwareFault = errors.New("hardware fault")
	// ErrConfigurationMissing is logged when reset finds no namespace for a slot.
	ErrConfigurationMissing = errors.New("configuration namespace missing")
	ErrInvalidSlot          = errors.New("invalid slot")
	ErrDrainTimeout         = errors.New("timed out waiting for L1A FIFO to drain")
	ErrSlotsBound           = errors.New("slots are still bound, reset first")

	ErrScanParameterOverflow = scan.ErrParameterOverflow
)

// SlotError is a per-slot failure during a transition fan-out.
type SlotError struct {
	Slot int
	Op   string
	Err  error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("slot %d: %s: %v", e.Slot, e.Op, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

// TransitionError reports a failed lifecycle command. Slot is the slot
// whose failure aborted the fan-out, or 0.
type TransitionError struct {
	Command Command
	From    State
	Slot    int
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s failed in state %s: %v", e.Command, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
