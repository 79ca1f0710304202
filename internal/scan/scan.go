// Package scan holds the calibration scan state that the lifecycle
// controller threads through configure, start and pause. It performs no
// hardware access.
package scan

import (
	"errors"
	"fmt"
)

// ErrParameterOverflow is returned when stepping would push a parameter past
// the width of its 8-bit run-parameter register.
var ErrParameterOverflow = errors.New("scan parameter overflow")

// MaxValue is the largest value a run parameter can hold.
const MaxValue = 0xff

// DefaultRunParams is programmed as the run-parameter word outside a scan.
const DefaultRunParams uint32 = 0xfaac

// Run-parameter indices.
const (
	ParamLatency = 1
	ParamVT1     = 2
	ParamVT2     = 3
)

type Mode int

const (
	None Mode = iota
	Latency
	Threshold
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "none":
		return None, nil
	case "latency":
		return Latency, nil
	case "threshold":
		return Threshold, nil
	default:
		return None, fmt.Errorf("unknown scan mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case Latency:
		return "latency"
	case Threshold:
		return "threshold"
	default:
		return "none"
	}
}

// RunType is the DAQ link run type for the mode.
func (m Mode) RunType() uint32 {
	switch m {
	case Latency:
		return 2
	case Threshold:
		return 3
	default:
		return 1
	}
}

// Param is one indexed run-parameter write.
type Param struct {
	Index int
	Value uint8
}

// Program is what configure writes to a card's DAQ link. Word is written
// as a whole when Params is empty.
type Program struct {
	RunType uint32
	Params  []Param
	Word    uint32
}

// State is the scan configuration together with the current stepped values.
type State struct {
	Mode         Mode `json:"-"`
	Min          int  `json:"min"`
	Step         int  `json:"step"`
	Latency      int  `json:"latency"`
	ThresholdVT1 int  `json:"threshold_vt1"`
}

func New(mode Mode, min, step int) (State, error) {
	if min < 0 || min > MaxValue {
		return State{}, fmt.Errorf("scan min %d out of range 0..%d", min, MaxValue)
	}
	if step < 0 || step > MaxValue {
		return State{}, fmt.Errorf("scan step %d out of range 0..%d", step, MaxValue)
	}
	return State{Mode: mode, Min: min, Step: step}, nil
}

// Active reports whether a scan steps a parameter on pause.
func (s State) Active() bool {
	return s.Mode != None
}

// Configure returns the DAQ link program for the configure transition.
func (s State) Configure() Program {
	switch s.Mode {
	case Latency:
		return Program{
			RunType: s.Mode.RunType(),
			Params:  []Param{{Index: ParamLatency, Value: uint8(s.Min)}},
		}
	case Threshold:
		return Program{
			RunType: s.Mode.RunType(),
			Params: []Param{
				{Index: ParamVT1, Value: uint8(s.Min)},
				{Index: ParamVT2, Value: 0},
			},
		}
	default:
		return Program{RunType: s.Mode.RunType(), Word: DefaultRunParams}
	}
}

// Start resets the stepped values at the beginning of a run.
func (s State) Start() State {
	switch s.Mode {
	case Latency:
		s.Latency = s.Min
		s.ThresholdVT1 = 0
	case Threshold:
		s.Latency = 0
		s.ThresholdVT1 = s.Min
	}
	return s
}

// PauseParams returns the run-parameter writes for the next scan point. It
// is nil when no scan is active.
func (s State) PauseParams() ([]Param, error) {
	next, err := s.Advance()
	if err != nil {
		return nil, err
	}

	switch s.Mode {
	case Latency:
		return []Param{{Index: ParamLatency, Value: uint8(next.Latency)}}, nil
	case Threshold:
		return []Param{
			{Index: ParamVT1, Value: uint8(next.ThresholdVT1)},
			{Index: ParamVT2, Value: 0},
		}, nil
	default:
		return nil, nil
	}
}

// Advance steps the active quantity once.
func (s State) Advance() (State, error) {
	switch s.Mode {
	case Latency:
		v, err := step("latency", s.Latency, s.Step)
		if err != nil {
			return s, err
		}
		s.Latency = v
	case Threshold:
		v, err := step("threshold VT1", s.ThresholdVT1, s.Step)
		if err != nil {
			return s, err
		}
		s.ThresholdVT1 = v
	}
	return s, nil
}

func step(name string, current, by int) (int, error) {
	next := current + by
	if next > MaxValue {
		return current, fmt.Errorf("%w: %s %d + %d exceeds %d", ErrParameterOverflow, name, current, by, MaxValue)
	}
	return next, nil
}
