// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave answers Modbus requests against a register mapping.
package slave

import (
	"encoding/binary"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
	"github.com/ffutop/modbus-endpoint/modbus"
)

// Process executes the request's function code against m and returns the response PDU.
// Every failure becomes an exception response; a nil mapping answers with
// "server device failure".
func Process(m *mapping.Mapping, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if m == nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return readBits(m, mapping.Coils, req)
	case modbus.FuncCodeReadDiscreteInputs:
		return readBits(m, mapping.DiscreteInputs, req)
	case modbus.FuncCodeReadHoldingRegisters:
		return readRegisters(m, mapping.HoldingRegisters, req)
	case modbus.FuncCodeReadInputRegisters:
		return readRegisters(m, mapping.InputRegisters, req)
	case modbus.FuncCodeWriteSingleCoil:
		return writeSingleCoil(m, req)
	case modbus.FuncCodeWriteSingleRegister:
		return writeSingleRegister(m, req)
	case modbus.FuncCodeWriteMultipleCoils:
		return writeMultipleCoils(m, req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return writeMultipleRegisters(m, req)
	default:
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

// IsWrite reports whether the function code modifies the mapping.
func IsWrite(funcCode byte) bool {
	switch funcCode {
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return true
	}
	return false
}

func readBits(m *mapping.Mapping, space mapping.Space, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxReadBits {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := m.ReadBits(space, address, quantity)
	if err != nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return withByteCount(req.FunctionCode, data)
}

func readRegisters(m *mapping.Mapping, space mapping.Space, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxReadRegisters {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := m.ReadRegisters(space, address, quantity)
	if err != nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return withByteCount(req.FunctionCode, data)
}

func writeSingleCoil(m *mapping.Mapping, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if value != 0xFF00 && value != 0x0000 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := m.Set(mapping.Coils, address, value); err != nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return echo(req)
}

func writeSingleRegister(m *mapping.Mapping, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := m.Set(mapping.HoldingRegisters, address, value); err != nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return echo(req)
}

func writeMultipleCoils(m *mapping.Mapping, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])

	if quantity < 1 || quantity > modbus.MaxWriteBits {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if len(req.Data)-5 != byteCount || byteCount != (int(quantity)+7)/8 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := m.WriteBits(mapping.Coils, address, quantity, req.Data[5:]); err != nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return addressQuantity(req.FunctionCode, address, quantity)
}

func writeMultipleRegisters(m *mapping.Mapping, req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])

	if quantity < 1 || quantity > modbus.MaxWriteRegisters {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if len(req.Data)-5 != byteCount || byteCount != int(quantity)*2 {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := m.WriteRegisters(mapping.HoldingRegisters, address, quantity, req.Data[5:]); err != nil {
		return modbus.NewException(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return addressQuantity(req.FunctionCode, address, quantity)
}

func withByteCount(funcCode byte, data []byte) modbus.ProtocolDataUnit {
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: respData}
}

func addressQuantity(funcCode byte, address, quantity uint16) modbus.ProtocolDataUnit {
	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: respData}
}

// echo copies the request so the response never aliases the receive buffer.
func echo(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	data := make([]byte, len(req.Data))
	copy(data, req.Data)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}
}
