// Package modbustest provides an in-process Modbus/TCP responder backed by
// an in-memory register bank, for tests of code that talks to cards.
package modbustest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/KevinKickass/CrateManager/internal/modbus"
)

const exceptionIllegalFunction = 0x01

type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	regs   map[uint8]map[uint16]uint16
	writes int
	conns  map[net.Conn]struct{}
}

// NewServer starts a responder on a loopback port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:    ln,
		regs:  make(map[uint8]map[uint16]uint16),
		conns: make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns the host:port clients should dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Set stores a register value for a unit.
func (s *Server) Set(unit uint8, addr uint16, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bank(unit)[addr] = value
}

// Set32 stores a 32-bit value as two big-endian registers.
func (s *Server) Set32(unit uint8, addr uint16, value uint32) {
	s.Set(unit, addr, uint16(value>>16))
	s.Set(unit, addr+1, uint16(value))
}

// Get returns a register value for a unit.
func (s *Server) Get(unit uint8, addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bank(unit)[addr]
}

// Get32 returns two registers combined big-endian.
func (s *Server) Get32(unit uint8, addr uint16) uint32 {
	return uint32(s.Get(unit, addr))<<16 | uint32(s.Get(unit, addr+1))
}

// Writes counts write requests served so far.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) bank(unit uint8) map[uint16]uint16 {
	b, ok := s.regs[unit]
	if !ok {
		b = make(map[uint16]uint16)
		s.regs[unit] = b
	}
	return b
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	header := make([]byte, 6)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := int(binary.BigEndian.Uint16(header[4:6]))
		buf := make([]byte, 6+length)
		copy(buf, header)
		if _, err := io.ReadFull(conn, buf[6:]); err != nil {
			return
		}

		request, err := modbus.DecodeFrame(buf)
		if err != nil {
			return
		}

		response := s.handle(request)
		if _, err := conn.Write(response.Encode()); err != nil {
			return
		}
	}
}

func (s *Server) handle(req *modbus.ModbusFrame) *modbus.ModbusFrame {
	resp := &modbus.ModbusFrame{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bank := s.bank(req.UnitID)

	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		start := binary.BigEndian.Uint16(req.Data[0:2])
		quantity := binary.BigEndian.Uint16(req.Data[2:4])
		data := make([]byte, 1+2*int(quantity))
		data[0] = byte(2 * quantity)
		for i := uint16(0); i < quantity; i++ {
			binary.BigEndian.PutUint16(data[1+2*i:3+2*i], bank[start+i])
		}
		resp.Data = data

	case modbus.FuncCodeWriteSingleRegister:
		addr := binary.BigEndian.Uint16(req.Data[0:2])
		bank[addr] = binary.BigEndian.Uint16(req.Data[2:4])
		s.writes++
		resp.Data = append([]byte(nil), req.Data[:4]...)

	case modbus.FuncCodeWriteMultipleRegisters:
		start := binary.BigEndian.Uint16(req.Data[0:2])
		quantity := binary.BigEndian.Uint16(req.Data[2:4])
		for i := uint16(0); i < quantity; i++ {
			bank[start+i] = binary.BigEndian.Uint16(req.Data[5+2*i : 7+2*i])
		}
		s.writes++
		resp.Data = append([]byte(nil), req.Data[:4]...)

	default:
		resp.FunctionCode |= 0x80
		resp.Data = []byte{exceptionIllegalFunction}
	}

	return resp
}
