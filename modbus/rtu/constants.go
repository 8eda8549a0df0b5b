// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// requestHeaderSize covers slave id, function code, address, quantity and byte count.
	requestHeaderSize = 7
)

// BroadcastID addresses every slave on the bus; broadcasts are never answered.
const BroadcastID = 0
