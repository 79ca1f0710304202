package system

import (
	"errors"
	"fmt"
	"slices"
)

// SystemState is the daemon's own state, separate from the crate's.
type SystemState string

const (
	StateInitializing SystemState = "INITIALIZING"
	StateRunning      SystemState = "RUNNING"
	StateStopping     SystemState = "STOPPING"
	StateStopped      SystemState = "STOPPED"
	StateError        SystemState = "ERROR"
)

var ErrInvalidSystemTransition = errors.New("invalid system state transition")

var systemTransitions = map[SystemState][]SystemState{
	StateInitializing: {StateRunning, StateStopping, StateError},
	StateRunning:      {StateStopping, StateError},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {},
	StateError:        {StateStopping, StateStopped},
}

func (s SystemState) String() string { return string(s) }

// Ready reports whether the servers are up and crate commands are served.
func (s SystemState) Ready() bool { return s == StateRunning }

func ValidateTransition(from, to SystemState) error {
	allowed, ok := systemTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidSystemTransition, from)
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSystemTransition, from, to)
	}
	return nil
}
