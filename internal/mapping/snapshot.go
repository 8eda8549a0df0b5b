// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mapping

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Snapshot layout:
//
//	Magic            : 4 bytes "MBMP"
//	Windows          : 4 x (Start uint16, Count uint32), space order
//	Coils            : Count bytes
//	DiscreteInputs   : Count bytes
//	HoldingRegisters : Count x 2 bytes, BigEndian
//	InputRegisters   : Count x 2 bytes, BigEndian
const (
	snapshotMagic      = "MBMP"
	snapshotHeaderSize = len(snapshotMagic) + 4*6
)

var ErrBadSnapshot = errors.New("modbus: malformed mapping snapshot")

var spaces = []Space{Coils, DiscreteInputs, HoldingRegisters, InputRegisters}

// SnapshotSize returns the encoded size of a mapping with layout l.
func SnapshotSize(l Layout) int {
	return snapshotHeaderSize +
		l.Coils.Count + l.DiscreteInputs.Count +
		2*l.HoldingRegisters.Count + 2*l.InputRegisters.Count
}

// MarshalBinary encodes the layout and every value of the mapping.
func (m *Mapping) MarshalBinary() ([]byte, error) {
	data := make([]byte, SnapshotSize(m.layout))
	m.encode(data)
	return data, nil
}

// EncodeTo writes the snapshot into dst, which must hold SnapshotSize bytes.
func (m *Mapping) EncodeTo(dst []byte) error {
	if len(dst) < SnapshotSize(m.layout) {
		return fmt.Errorf("modbus: snapshot buffer of %d bytes, need %d", len(dst), SnapshotSize(m.layout))
	}
	m.encode(dst)
	return nil
}

func (m *Mapping) encode(data []byte) {
	copy(data, snapshotMagic)
	pos := len(snapshotMagic)
	for _, space := range spaces {
		r, _ := m.layout.Range(space)
		binary.BigEndian.PutUint16(data[pos:], r.Start)
		binary.BigEndian.PutUint32(data[pos+2:], uint32(r.Count))
		pos += 6
	}
	pos += copy(data[pos:], m.coils)
	pos += copy(data[pos:], m.discreteInputs)
	for _, v := range m.holdingRegisters {
		binary.BigEndian.PutUint16(data[pos:], v)
		pos += 2
	}
	for _, v := range m.inputRegisters {
		binary.BigEndian.PutUint16(data[pos:], v)
		pos += 2
	}
}

// EncodeRange writes only the quantity elements starting at address into dst, an
// existing snapshot of the same layout. It returns the byte window [start, end) it wrote.
func (m *Mapping) EncodeRange(dst []byte, space Space, address uint16, quantity int) (int, int, error) {
	if len(dst) < SnapshotSize(m.layout) {
		return 0, 0, fmt.Errorf("modbus: snapshot buffer of %d bytes, need %d", len(dst), SnapshotSize(m.layout))
	}
	off, err := m.offset(space, address, quantity)
	if err != nil {
		return 0, 0, err
	}

	base := snapshotHeaderSize
	for _, s := range spaces[:space] {
		r, _ := m.layout.Range(s)
		if s.IsBit() {
			base += r.Count
		} else {
			base += 2 * r.Count
		}
	}

	if space.IsBit() {
		start := base + off
		copy(dst[start:start+quantity], m.bits(space)[off:off+quantity])
		return start, start + quantity, nil
	}
	start := base + 2*off
	for i, v := range m.registers(space)[off : off+quantity] {
		binary.BigEndian.PutUint16(dst[start+2*i:], v)
	}
	return start, start + 2*quantity, nil
}

// Decode rebuilds a mapping from a snapshot produced by MarshalBinary.
func Decode(data []byte) (*Mapping, error) {
	if len(data) < snapshotHeaderSize || string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, ErrBadSnapshot
	}

	var layout Layout
	pos := len(snapshotMagic)
	for _, space := range spaces {
		r := Range{
			Start: binary.BigEndian.Uint16(data[pos:]),
			Count: int(binary.BigEndian.Uint32(data[pos+2:])),
		}
		switch space {
		case Coils:
			layout.Coils = r
		case DiscreteInputs:
			layout.DiscreteInputs = r
		case HoldingRegisters:
			layout.HoldingRegisters = r
		case InputRegisters:
			layout.InputRegisters = r
		}
		pos += 6
	}

	m, err := New(layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if len(data) < SnapshotSize(layout) {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrBadSnapshot, len(data), SnapshotSize(layout))
	}

	pos += copy(m.coils, data[pos:])
	pos += copy(m.discreteInputs, data[pos:])
	for i := range m.holdingRegisters {
		m.holdingRegisters[i] = binary.BigEndian.Uint16(data[pos:])
		pos += 2
	}
	for i := range m.inputRegisters {
		m.inputRegisters[i] = binary.BigEndian.Uint16(data[pos:])
		pos += 2
	}
	return m, nil
}
