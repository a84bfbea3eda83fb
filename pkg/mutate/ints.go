// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"encoding/binary"
	"fmt"
)

var intWidths = [...]int{1, 2, 4, 8}

func widthMask(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(width)) - 1
}

func loadInt(data []byte, width int, bigEndian bool) uint64 {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	switch width {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(order.Uint16(data))
	case 4:
		return uint64(order.Uint32(data))
	case 8:
		return order.Uint64(data)
	default:
		panic(fmt.Sprintf("loadInt: bad width %v", width))
	}
}

func storeInt(data []byte, v uint64, width int, bigEndian bool) {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	switch width {
	case 1:
		data[0] = byte(v)
	case 2:
		order.PutUint16(data, uint16(v))
	case 4:
		order.PutUint32(data, uint32(v))
	case 8:
		order.PutUint64(data, v)
	default:
		panic(fmt.Sprintf("storeInt: bad width %v", width))
	}
}

// signExtend interprets the low width bytes of v as a signed integer.
func signExtend(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	shift := 64 - 8*uint(width)
	return uint64(int64(v<<shift) >> shift)
}
