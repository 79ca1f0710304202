package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrConnection means a card could not be reached.
	ErrConnection = errors.New("connection error")
	// ErrNotConnected is returned by register operations on a dropped session.
	ErrNotConnected = errors.New("session not connected")
	// ErrUnknownRegister means the address table has no entry for a name.
	ErrUnknownRegister = errors.New("unknown register")
	// ErrReadOnly is returned when writing a read-only register.
	ErrReadOnly = errors.New("register is read-only")
)

// Session is the register-level handle to one card. Implementations are not
// required to be safe for concurrent use; wrap them in a Guard.
type Session interface {
	// Name is the device name, e.g. "shelf01.amc03".
	Name() string
	IsConnected() bool
	Close() error

	// ReadRegister reads a named register from the address table, masked and
	// shifted down to its field width.
	ReadRegister(ctx context.Context, name string) (uint64, error)

	ResetL1ACount(ctx context.Context) error
	ResetCalPulseCount(ctx context.Context) error
	ResetDAQLink(ctx context.Context) error
	EnableDAQLink(ctx context.Context) error
	SetL1AInhibit(ctx context.Context, inhibit bool) error

	SetDAQLinkRunType(ctx context.Context, runType uint32) error
	// SetDAQLinkRunParameter sets one of the three 8-bit run parameters (index 1..3).
	SetDAQLinkRunParameter(ctx context.Context, index int, value uint8) error
	// SetDAQLinkRunParameters writes all run parameters as one word.
	SetDAQLinkRunParameters(ctx context.Context, params uint32) error

	L1AFIFOIsEmpty(ctx context.Context) (bool, error)
	// TrackingData burst-reads up to maxWords 32-bit words from the tracking
	// FIFO of one optical link.
	TrackingData(ctx context.Context, link int, maxWords int) ([]uint32, error)
}

// Endpoint holds the connection parameters of one card.
type Endpoint struct {
	HostAddress   string `json:"host_address"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
	DeviceAddress string `json:"device_address"`
	DevicePort    int    `json:"device_port"`
	UnitID        uint8  `json:"unit_id"`
}

const (
	ProtocolModbusTCP = "modbus-tcp"
	ProtocolModbusHub = "modbus-hub"
)

// Dial returns the TCP address to connect to for the endpoint's protocol.
func (e Endpoint) Dial() (string, error) {
	switch e.Protocol {
	case "", ProtocolModbusTCP:
		if e.DeviceAddress == "" {
			return "", fmt.Errorf("%w: no device address", ErrConnection)
		}
		port := e.DevicePort
		if port == 0 {
			port = 502
		}
		return fmt.Sprintf("%s:%d", e.DeviceAddress, port), nil
	case ProtocolModbusHub:
		if e.HostAddress == "" {
			return "", fmt.Errorf("%w: no hub address", ErrConnection)
		}
		return fmt.Sprintf("%s:%d", e.HostAddress, e.HostPort), nil
	default:
		return "", fmt.Errorf("%w: unsupported protocol %q", ErrConnection, e.Protocol)
	}
}

// Guard serialises access to a Session between the lifecycle controller and
// the monitor sampling the same card.
type Guard struct {
	mu      sync.Mutex
	session Session
}

func NewGuard(session Session) *Guard {
	return &Guard{session: session}
}

// Do runs fn with exclusive access to the session.
func (g *Guard) Do(fn func(Session) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.session)
}

// Connected checks the session's connection status under the lock.
func (g *Guard) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.IsConnected()
}

// Name does not touch the hardware and needs no lock.
func (g *Guard) Name() string {
	return g.session.Name()
}

// Close closes the session under the lock.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.Close()
}
