// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mapping

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MaxAddress = 65535
)

var (
	ErrOutOfRange   = errors.New("modbus: address out of range")
	ErrInvalidSpace = errors.New("modbus: invalid register space")
)

// Space identifies one of the four Modbus data tables.
type Space int

const (
	Coils Space = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

func (s Space) String() string {
	switch s {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete-inputs"
	case HoldingRegisters:
		return "holding-registers"
	case InputRegisters:
		return "input-registers"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// IsBit reports whether elements of the space are single bits.
func (s Space) IsBit() bool {
	return s == Coils || s == DiscreteInputs
}

// Range is the address window of one space. A zero Count means the space is absent.
type Range struct {
	Start uint16 `mapstructure:"start"`
	Count int    `mapstructure:"count"`
}

// Layout describes the address windows of all four spaces.
type Layout struct {
	Coils            Range `mapstructure:"coils"`
	DiscreteInputs   Range `mapstructure:"discrete_inputs"`
	HoldingRegisters Range `mapstructure:"holding_registers"`
	InputRegisters   Range `mapstructure:"input_registers"`
}

// Range returns the window configured for space.
func (l Layout) Range(space Space) (Range, error) {
	switch space {
	case Coils:
		return l.Coils, nil
	case DiscreteInputs:
		return l.DiscreteInputs, nil
	case HoldingRegisters:
		return l.HoldingRegisters, nil
	case InputRegisters:
		return l.InputRegisters, nil
	default:
		return Range{}, fmt.Errorf("%w: %d", ErrInvalidSpace, int(space))
	}
}

func (l Layout) validate() error {
	for _, space := range []Space{Coils, DiscreteInputs, HoldingRegisters, InputRegisters} {
		r, _ := l.Range(space)
		if r.Count < 0 {
			return fmt.Errorf("modbus: %s count %d is negative", space, r.Count)
		}
		if int(r.Start)+r.Count > MaxAddress+1 {
			return fmt.Errorf("modbus: %s window %d+%d exceeds the address space", space, r.Start, r.Count)
		}
	}
	return nil
}

// WriteHook is called after a successful write of quantity elements starting at address.
type WriteHook func(space Space, address uint16, quantity int)

// Mapping holds the register map served by a slave.
// Bits are stored as 1 (ON) or 0 (OFF), registers as host uint16 values.
//
// A Mapping is not safe for concurrent use; the owning connection serializes access.
type Mapping struct {
	layout Layout

	coils            []byte
	discreteInputs   []byte
	holdingRegisters []uint16
	inputRegisters   []uint16

	onWrite WriteHook
}

// New allocates a zeroed mapping for layout.
func New(layout Layout) (*Mapping, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}
	return &Mapping{
		layout:           layout,
		coils:            make([]byte, layout.Coils.Count),
		discreteInputs:   make([]byte, layout.DiscreteInputs.Count),
		holdingRegisters: make([]uint16, layout.HoldingRegisters.Count),
		inputRegisters:   make([]uint16, layout.InputRegisters.Count),
	}, nil
}

// Layout returns the windows the mapping was built with.
func (m *Mapping) Layout() Layout {
	return m.layout
}

// SetWriteHook installs fn to observe writes. A nil fn removes the hook.
func (m *Mapping) SetWriteHook(fn WriteHook) {
	m.onWrite = fn
}

// offset translates address into an index of the space's backing slice,
// rejecting the access unless all quantity elements are mapped.
func (m *Mapping) offset(space Space, address uint16, quantity int) (int, error) {
	r, err := m.layout.Range(space)
	if err != nil {
		return 0, err
	}
	off := int(address) - int(r.Start)
	if off < 0 || quantity < 1 || off+quantity > r.Count {
		return 0, fmt.Errorf("%w: %s address %d quantity %d (mapped %d-%d)",
			ErrOutOfRange, space, address, quantity, r.Start, int(r.Start)+r.Count-1)
	}
	return off, nil
}

func (m *Mapping) bits(space Space) []byte {
	if space == Coils {
		return m.coils
	}
	return m.discreteInputs
}

func (m *Mapping) registers(space Space) []uint16 {
	if space == HoldingRegisters {
		return m.holdingRegisters
	}
	return m.inputRegisters
}

func (m *Mapping) notify(space Space, address uint16, quantity int) {
	if m.onWrite != nil {
		m.onWrite(space, address, quantity)
	}
}

// Get returns one element. Bits read as 0 or 1.
func (m *Mapping) Get(space Space, address uint16) (uint16, error) {
	off, err := m.offset(space, address, 1)
	if err != nil {
		return 0, err
	}
	if space.IsBit() {
		return uint16(m.bits(space)[off]), nil
	}
	return m.registers(space)[off], nil
}

// Set stores one element in any space, including the read-only ones.
// Any non-zero value sets a bit.
func (m *Mapping) Set(space Space, address uint16, value uint16) error {
	off, err := m.offset(space, address, 1)
	if err != nil {
		return err
	}
	if space.IsBit() {
		var bit byte
		if value != 0 {
			bit = 1
		}
		m.bits(space)[off] = bit
	} else {
		m.registers(space)[off] = value
	}
	m.notify(space, address, 1)
	return nil
}

// ReadBits reads a range of coils or discrete inputs and returns them as packed bytes (Modbus format).
func (m *Mapping) ReadBits(space Space, address, quantity uint16) ([]byte, error) {
	if !space.IsBit() {
		return nil, fmt.Errorf("%w: %s is not a bit space", ErrInvalidSpace, space)
	}
	off, err := m.offset(space, address, int(quantity))
	if err != nil {
		return nil, err
	}

	src := m.bits(space)
	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if src[off+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

// ReadRegisters reads a range of holding or input registers and returns them as BigEndian bytes.
func (m *Mapping) ReadRegisters(space Space, address, quantity uint16) ([]byte, error) {
	if space.IsBit() {
		return nil, fmt.Errorf("%w: %s is not a register space", ErrInvalidSpace, space)
	}
	off, err := m.offset(space, address, int(quantity))
	if err != nil {
		return nil, err
	}

	src := m.registers(space)
	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], src[off+i])
	}
	return result, nil
}

// WriteBits writes a range of bits from packed bytes.
func (m *Mapping) WriteBits(space Space, address, quantity uint16, data []byte) error {
	if !space.IsBit() {
		return fmt.Errorf("%w: %s is not a bit space", ErrInvalidSpace, space)
	}
	off, err := m.offset(space, address, int(quantity))
	if err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("modbus: insufficient data length %d for %d bits", len(data), quantity)
	}

	dst := m.bits(space)
	for i := 0; i < int(quantity); i++ {
		dst[off+i] = (data[i/8] >> uint(i%8)) & 1
	}
	m.notify(space, address, int(quantity))
	return nil
}

// WriteRegisters writes a range of registers from BigEndian bytes.
func (m *Mapping) WriteRegisters(space Space, address, quantity uint16, data []byte) error {
	if space.IsBit() {
		return fmt.Errorf("%w: %s is not a register space", ErrInvalidSpace, space)
	}
	off, err := m.offset(space, address, int(quantity))
	if err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("modbus: insufficient data length %d for %d registers", len(data), quantity)
	}

	dst := m.registers(space)
	for i := 0; i < int(quantity); i++ {
		dst[off+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	m.notify(space, address, int(quantity))
	return nil
}

// CopyFrom copies every address mapped by both m and src from src into m,
// without firing the write hook. It returns the number of elements copied.
func (m *Mapping) CopyFrom(src *Mapping) int {
	copied := 0
	for _, space := range []Space{Coils, DiscreteInputs, HoldingRegisters, InputRegisters} {
		dr, _ := m.layout.Range(space)
		sr, _ := src.layout.Range(space)
		lo := max(int(dr.Start), int(sr.Start))
		hi := min(int(dr.Start)+dr.Count, int(sr.Start)+sr.Count)
		if lo >= hi {
			continue
		}
		if space.IsBit() {
			copy(m.bits(space)[lo-int(dr.Start):hi-int(dr.Start)], src.bits(space)[lo-int(sr.Start):])
		} else {
			copy(m.registers(space)[lo-int(dr.Start):hi-int(dr.Start)], src.registers(space)[lo-int(sr.Start):])
		}
		copied += hi - lo
	}
	return copied
}
