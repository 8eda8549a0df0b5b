// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package service

import (
	"reflect"
	"testing"
)

func TestParseAddresses(t *testing.T) {
	tests := []struct {
		input   string
		want    []uint16
		wantErr bool
	}{
		{"1", []uint16{1}, false},
		{"1,2,3", []uint16{1, 2, 3}, false},
		{"1-3", []uint16{1, 2, 3}, false},
		{"20, 0-2", []uint16{20, 0, 1, 2}, false},
		{"5,3-6", []uint16{5, 3, 4, 6}, false},
		{"65534-65535", []uint16{65534, 65535}, false},
		{"", nil, false},
		{"1-", nil, true},
		{"a", nil, true},
		{"3-1", nil, true},
		{"1-2-3", nil, true},
		{"65536", nil, true},
		{"-1", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseAddresses(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddresses(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseAddresses(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
