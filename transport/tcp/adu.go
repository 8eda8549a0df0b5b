// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"fmt"

	"github.com/ffutop/modbus-endpoint/modbus"
)

const (
	tcpHeaderSize = 7
	tcpMinSize    = 8
	tcpMaxSize    = modbus.MaxTCPADULength

	// tcpMaxLength bounds the MBAP length field: unit id plus the largest PDU.
	tcpMaxLength = 1 + modbus.MaxPDULength
)

// ApplicationDataUnit is an MBAP header followed by a PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// Decode parses raw into an ADU. The returned PDU data aliases raw.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	if len(raw) < tcpMinSize {
		err = fmt.Errorf("modbus: request length '%v' does not meet minimum '%v'", len(raw), tcpMinSize)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.TransactionID = uint16(raw[0])<<8 | uint16(raw[1])
	adu.ProtocolID = uint16(raw[2])<<8 | uint16(raw[3])
	adu.Length = uint16(raw[4])<<8 | uint16(raw[5])
	adu.SlaveID = raw[6]
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]

	if adu.ProtocolID != 0 {
		err = fmt.Errorf("modbus: protocol id '%v' is not modbus", adu.ProtocolID)
		return
	}
	if int(adu.Length) != len(raw)-6 {
		err = fmt.Errorf("modbus: length in header '%v' does not match frame length '%v'", adu.Length, len(raw)-6)
		return
	}
	return
}

// Encode builds the frame. Length is always recomputed from the PDU.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + tcpMinSize
	if length > tcpMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
		return
	}
	adu.Length = uint16(len(adu.Pdu.Data) + 2)

	raw = make([]byte, length)
	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID >> 0)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID >> 0)
	raw[4] = byte(adu.Length >> 8)
	raw[5] = byte(adu.Length >> 0)
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return
}

// Verify checks that resp answers req.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if resp.TransactionID != req.TransactionID {
		err = fmt.Errorf("modbus: response transaction id '%v' does not match request '%v'", resp.TransactionID, req.TransactionID)
		return
	}
	if resp.SlaveID != req.SlaveID {
		err = fmt.Errorf("modbus: response unit id '%v' does not match request '%v'", resp.SlaveID, req.SlaveID)
		return
	}
	return
}

// frameLength validates the MBAP header and returns the total ADU length it announces.
func frameLength(header []byte) (int, error) {
	protocolID := uint16(header[2])<<8 | uint16(header[3])
	length := int(header[4])<<8 | int(header[5])
	if protocolID != 0 {
		return 0, fmt.Errorf("modbus: protocol id '%v' is not modbus", protocolID)
	}
	if length < 2 || length > tcpMaxLength {
		return 0, fmt.Errorf("modbus: length in header '%v' must be between 2 and %v", length, tcpMaxLength)
	}
	return 6 + length, nil
}
