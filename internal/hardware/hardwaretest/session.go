// Package hardwaretest provides an in-memory hardware.Session for tests of
// the monitor and the lifecycle controller.
package hardwaretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/CrateManager/internal/hardware"
)

// Call is one recorded mutating operation.
type Call struct {
	Op    string
	Index int
	Value uint64
}

type Session struct {
	name string

	mu        sync.Mutex
	connected bool
	closed    bool
	registers map[string]uint64
	readErr   map[string]error
	calls     []Call
	// fifoBusy is the number of L1AFIFOIsEmpty polls that report not empty.
	fifoBusy int
	tracking map[int][]uint32
}

var _ hardware.Session = (*Session)(nil)

func NewSession(name string) *Session {
	return &Session{
		name:      name,
		connected: true,
		registers: make(map[string]uint64),
		readErr:   make(map[string]error),
		tracking:  make(map[int][]uint32),
	}
}

func (s *Session) Name() string { return s.name }

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

// SetConnected simulates a dropped or restored link.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *Session) SetRegister(name string, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers[name] = value
}

// FailRead makes reads of name return err; a nil err clears it.
func (s *Session) FailRead(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErr, name)
		return
	}
	s.readErr[name] = err
}

// SetFIFOBusy makes the next n FIFO-empty polls report busy.
func (s *Session) SetFIFOBusy(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fifoBusy = n
}

func (s *Session) SetTrackingData(link int, words []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking[link] = words
}

// Calls returns the recorded mutating operations in order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Ops returns the names of the recorded operations in order.
func (s *Session) Ops() []string {
	calls := s.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

func (s *Session) ReadRegister(_ context.Context, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return 0, err
	}
	if err, ok := s.readErr[name]; ok {
		return 0, err
	}
	return s.registers[name], nil
}

func (s *Session) ResetL1ACount(context.Context) error {
	return s.record(Call{Op: "ResetL1ACount"})
}

func (s *Session) ResetCalPulseCount(context.Context) error {
	return s.record(Call{Op: "ResetCalPulseCount"})
}

func (s *Session) ResetDAQLink(context.Context) error {
	return s.record(Call{Op: "ResetDAQLink"})
}

func (s *Session) EnableDAQLink(context.Context) error {
	return s.record(Call{Op: "EnableDAQLink"})
}

func (s *Session) SetL1AInhibit(_ context.Context, inhibit bool) error {
	var v uint64
	if inhibit {
		v = 1
	}
	return s.record(Call{Op: "SetL1AInhibit", Value: v})
}

func (s *Session) SetDAQLinkRunType(_ context.Context, runType uint32) error {
	return s.record(Call{Op: "SetDAQLinkRunType", Value: uint64(runType)})
}

func (s *Session) SetDAQLinkRunParameter(_ context.Context, index int, value uint8) error {
	return s.record(Call{Op: "SetDAQLinkRunParameter", Index: index, Value: uint64(value)})
}

func (s *Session) SetDAQLinkRunParameters(_ context.Context, params uint32) error {
	return s.record(Call{Op: "SetDAQLinkRunParameters", Value: uint64(params)})
}

func (s *Session) L1AFIFOIsEmpty(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return false, err
	}
	if s.fifoBusy > 0 {
		s.fifoBusy--
		return false, nil
	}
	return true, nil
}

func (s *Session) TrackingData(_ context.Context, link int, maxWords int) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	if link < 0 || link >= hardware.NumLinks {
		return nil, fmt.Errorf("link %d out of range", link)
	}
	words := s.tracking[link]
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	out := make([]uint32, len(words))
	copy(out, words)
	return out, nil
}

// RunParameter returns the last value written to run parameter index and
// whether it was written at all.
func (s *Session) RunParameter(index int) (uint8, bool) {
	var (
		value   uint8
		written bool
	)
	for _, c := range s.Calls() {
		if c.Op == "SetDAQLinkRunParameter" && c.Index == index {
			value, written = uint8(c.Value), true
		}
	}
	return value, written
}

func (s *Session) record(c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}
	s.calls = append(s.calls, c)
	return nil
}

func (s *Session) checkLocked() error {
	if s.closed || !s.connected {
		return hardware.ErrNotConnected
	}
	return nil
}

// ErrInjected is a convenience error for FailRead.
var ErrInjected = errors.New("injected failure")

// Factory hands out pre-registered sessions by device name.
type Factory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opened   []string
}

func NewFactory() *Factory {
	return &Factory{sessions: make(map[string]*Session)}
}

// Add registers a session, creating one when s is nil.
func (f *Factory) Add(name string, s *Session) *Session {
	if s == nil {
		s = NewSession(name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[name] = s
	return s
}

// Session returns the session registered under name.
func (f *Factory) Session(name string) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

// Opened lists the device names passed to Open, in order.
func (f *Factory) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.opened))
	copy(out, f.opened)
	return out
}

// Open returns the registered session, reopening it if it was closed.
// Unknown names and disconnected sessions fail with hardware.ErrConnection,
// like the real factory.
func (f *Factory) Open(_ context.Context, name string, _ hardware.Endpoint, _ string) (hardware.Session, error) {
	f.mu.Lock()
	s, ok := f.sessions[name]
	f.opened = append(f.opened, name)
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no card %s", hardware.ErrConnection, name)
	}
	s.reopen()
	if !s.IsConnected() {
		return s, fmt.Errorf("%w: %s unreachable", hardware.ErrConnection, name)
	}
	return s, nil
}
