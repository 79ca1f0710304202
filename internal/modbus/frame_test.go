package modbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReadHoldingRegisters(t *testing.T) {
	frame := ReadHoldingRegistersRequest(7, 2, 0x0100, 4)
	frame.TransactionID = 7

	got := frame.Encode()
	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x02, 0x03, 0x01, 0x00, 0x00, 0x04}
	assert.Equal(t, want, got)
}

func TestDecodeRoundTripsWriteMultiple(t *testing.T) {
	frame := WriteMultipleRegistersRequest(9, 5, 0x0020, []uint16{0x1234, 0xabcd})

	decoded, err := DecodeFrame(frame.Encode())
	require.NoError(t, err)

	assert.Equal(t, uint16(9), decoded.TransactionID)
	assert.Equal(t, uint8(5), decoded.UnitID)
	assert.Equal(t, uint8(FuncCodeWriteMultipleRegisters), decoded.FunctionCode)
	assert.Equal(t, []byte{0x00, 0x20, 0x00, 0x02, 0x04, 0x12, 0x34, 0xab, 0xcd}, decoded.Data)
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x00, 0x01, 0x00}},
		{"bad protocol", []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x03}},
		{"length mismatch", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestExceptionResponse(t *testing.T) {
	frame := &ModbusFrame{FunctionCode: FuncCodeReadHoldingRegisters | 0x80, Data: []byte{0x02}}

	_, err := frame.ParseRegisterResponse()
	require.Error(t, err)

	var exc *ExceptionError
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, uint8(FuncCodeReadHoldingRegisters), exc.FunctionCode)
	assert.Equal(t, uint8(0x02), exc.Code)
}

func TestParseRegisterResponse(t *testing.T) {
	frame := &ModbusFrame{FunctionCode: FuncCodeReadHoldingRegisters, Data: []byte{0x04, 0x00, 0x01, 0xff, 0xfe}}

	regs, err := frame.ParseRegisterResponse()
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0001, 0xfffe}, regs)
}
