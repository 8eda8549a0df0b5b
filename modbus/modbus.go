// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

const (
	// Bit access
	FuncCodeReadDiscreteInputs = 0x02
	FuncCodeReadCoils          = 0x01
	FuncCodeWriteSingleCoil    = 0x05
	FuncCodeWriteMultipleCoils = 0x0F

	// 16-bit access
	FuncCodeReadInputRegisters         = 0x04
	FuncCodeReadHoldingRegisters       = 0x03
	FuncCodeWriteSingleRegister        = 0x06
	FuncCodeWriteMultipleRegisters     = 0x10
	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeMaskWriteRegister          = 0x16
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeReadDeviceIdentification   = 0x2B
)

const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeNegativeAcknowledge                = 7
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// Protocol limits, see "MODBUS Application Protocol Specification V1.1b3" 6.1-6.12.
const (
	MaxReadBits       = 2000
	MaxWriteBits      = 1968
	MaxReadRegisters  = 125
	MaxWriteRegisters = 123

	// MaxPDULength is function code plus 252 bytes of data.
	MaxPDULength = 253
	// MaxRTUADULength is slave address + PDU + CRC.
	MaxRTUADULength = 256
	// MaxTCPADULength is MBAP header + PDU.
	MaxTCPADULength = 260
	// MaxADULength is large enough for a frame of either transport.
	MaxADULength = MaxTCPADULength
)

// ErrInvalidQuantity is returned when a request asks for less than one element.
var ErrInvalidQuantity = errors.New("modbus: quantity must be at least 1")

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU carries an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&0x80 != 0
}

// ExceptionError is returned when a remote device answers with an exception response.
type ExceptionError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, ExceptionText(e.ExceptionCode), e.FunctionCode&0x7F)
}

// ExceptionText returns the human readable description of an exception code.
func ExceptionText(code byte) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		return "slave device or server failure"
	case ExceptionCodeAcknowledge:
		return "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		return "slave device or server is busy"
	case ExceptionCodeNegativeAcknowledge:
		return "negative acknowledge"
	case ExceptionCodeMemoryParityError:
		return "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "target device failed to respond"
	default:
		return "unknown exception"
	}
}

// NewException builds an exception response for the given function code.
func NewException(funcCode, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: funcCode | 0x80,
		Data:         []byte{code},
	}
}

// CheckResponse verifies that resp answers req, turning exception responses into *ExceptionError.
func CheckResponse(req, resp ProtocolDataUnit) error {
	if resp.FunctionCode == req.FunctionCode|0x80 {
		if len(resp.Data) < 1 {
			return fmt.Errorf("modbus: exception response for function '%v' carries no code", req.FunctionCode)
		}
		return &ExceptionError{FunctionCode: resp.FunctionCode, ExceptionCode: resp.Data[0]}
	}
	if resp.FunctionCode != req.FunctionCode {
		return fmt.Errorf("modbus: response function code '%v' does not match request '%v'", resp.FunctionCode, req.FunctionCode)
	}
	return nil
}
