package fragments

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a byte order that can express itself as a DBus byte
// order flag.
type ByteOrder interface {
	byteOrder
	flag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type stdOrder struct {
	byteOrder
}

func (o stdOrder) flag() byte {
	switch o.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder")
	}
}

var (
	BigEndian    = stdOrder{binary.BigEndian}
	LittleEndian = stdOrder{binary.LittleEndian}
	NativeEndian = stdOrder{binary.NativeEndian}
)
