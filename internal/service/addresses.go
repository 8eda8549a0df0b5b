// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

// ParseAddresses parses a string of register addresses (e.g. "0-9,20") into a slice.
// Order of first appearance is kept and duplicates are dropped.
func ParseAddresses(input string) ([]uint16, error) {
	var addrs []uint16
	seen := make(map[uint16]struct{})
	add := func(a int) error {
		if a < 0 || a > mapping.MaxAddress {
			return fmt.Errorf("address out of range: %d", a)
		}
		if _, ok := seen[uint16(a)]; !ok {
			seen[uint16(a)] = struct{}{}
			addrs = append(addrs, uint16(a))
		}
		return nil
	}

	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			// Range
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				if err := add(i); err != nil {
					return nil, err
				}
			}
		} else {
			// Single
			a, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}
			if err := add(a); err != nil {
				return nil, err
			}
		}
	}
	return addrs, nil
}
