// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package endpoint

import (
	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

// NewMapping builds a mapping for layout and swaps it in. The previous mapping stays
// in place when layout is invalid.
func (c *Connection) NewMapping(layout mapping.Layout) error {
	if c.closed.Load() {
		return ErrClosed
	}
	m, err := mapping.New(layout)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	c.mapping = m
	return nil
}

// GetMapping reads one element of the local mapping. Bits read as 0 or 1.
func (c *Connection) GetMapping(space mapping.Space, address uint16) (uint16, error) {
	var v uint16
	err := c.WithMapping(func(m *mapping.Mapping) error {
		var err error
		v, err = m.Get(space, address)
		return err
	})
	return v, err
}

// SetMapping writes one element of the local mapping. A non-zero value sets a bit.
func (c *Connection) SetMapping(space mapping.Space, address uint16, value uint16) error {
	return c.WithMapping(func(m *mapping.Mapping) error {
		return m.Set(space, address, value)
	})
}

// WithMapping runs fn against the installed mapping while holding the guard.
func (c *Connection) WithMapping(fn func(m *mapping.Mapping) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if c.mapping == nil {
		return ErrNoMapping
	}
	return fn(c.mapping)
}
