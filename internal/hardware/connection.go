package hardware

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConnectionFile maps device names to endpoints, overriding the per-slot
// connection parameters.
//
//	connections:
//	  shelf01.amc03:
//	    uri: modbus-tcp://192.168.0.163:502
//	    address_table: builtin:amc
//	    unit_id: 1
type ConnectionFile struct {
	Connections map[string]ConnectionEntry `yaml:"connections"`
}

type ConnectionEntry struct {
	URI          string `yaml:"uri"`
	AddressTable string `yaml:"address_table"`
	UnitID       uint8  `yaml:"unit_id"`
	// Device is the card address behind a modbus-hub URI.
	Device string `yaml:"device"`
}

func LoadConnectionFile(path string) (*ConnectionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file: %w", err)
	}

	var file ConnectionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse connection file: %w", err)
	}

	for name, entry := range file.Connections {
		if _, err := entry.Endpoint(); err != nil {
			return nil, fmt.Errorf("connection %s: %w", name, err)
		}
	}

	return &file, nil
}

// Resolve returns the endpoint and address table registered for name.
func (f *ConnectionFile) Resolve(name string) (Endpoint, string, bool) {
	if f == nil {
		return Endpoint{}, "", false
	}
	entry, ok := f.Connections[name]
	if !ok {
		return Endpoint{}, "", false
	}
	ep, err := entry.Endpoint()
	if err != nil {
		return Endpoint{}, "", false
	}
	return ep, entry.AddressTable, true
}

// Endpoint parses the URI. The scheme selects the protocol.
func (e ConnectionEntry) Endpoint() (Endpoint, error) {
	u, err := url.Parse(e.URI)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid uri %q: %w", e.URI, err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid uri host %q: %w", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid uri port %q: %w", portStr, err)
	}

	ep := Endpoint{Protocol: u.Scheme, UnitID: e.UnitID}
	switch u.Scheme {
	case ProtocolModbusTCP:
		ep.DeviceAddress = host
		ep.DevicePort = port
	case ProtocolModbusHub:
		ep.HostAddress = host
		ep.HostPort = port
		ep.DeviceAddress = e.Device
	default:
		return Endpoint{}, fmt.Errorf("unsupported protocol %q", u.Scheme)
	}
	return ep, nil
}
