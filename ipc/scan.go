package ipc

import (
	"encoding/binary"
	"fmt"
)

// scanner finds where the next msgpack value in a buffer ends without
// decoding it. It is resumable: bytes already walked are never walked
// again, so a frame split into many chunks costs one pass in total.
//
// off and the stack are relative to the start of the buffer passed to
// next; callers reset the scanner when they drop a prefix.
type scanner struct {
	off int
	// remaining counts the items still owed by each open container.
	remaining []int
}

func (s *scanner) reset() {
	s.off = 0
	s.remaining = s.remaining[:0]
}

// next resumes the walk over buf. It returns the end offset of the
// first complete value, or ok=false when more bytes are needed.
func (s *scanner) next(buf []byte) (end int, ok bool, err error) {
	for s.off < len(buf) {
		size, children, known := header(buf[s.off:])
		if !known {
			return 0, false, fmt.Errorf("invalid msgpack type byte 0x%02x at offset %d", buf[s.off], s.off)
		}
		if size == 0 || s.off+size > len(buf) {
			// Header or payload is still in flight.
			return 0, false, nil
		}
		s.off += size
		if children > 0 {
			s.remaining = append(s.remaining, children)
			continue
		}
		for len(s.remaining) > 0 {
			top := len(s.remaining) - 1
			s.remaining[top]--
			if s.remaining[top] > 0 {
				break
			}
			s.remaining = s.remaining[:top]
		}
		if len(s.remaining) == 0 {
			return s.off, true, nil
		}
	}
	return 0, false, nil
}

// header measures the value starting at b[0]. size covers the type byte,
// length fields and any inline payload; children is the number of
// nested values a container still owes. size is 0 when b is too short
// to read the header. known is false for the reserved byte 0xc1.
func header(b []byte) (size, children int, known bool) {
	t := b[0]
	switch {
	case t <= 0x7f, t >= 0xe0:
		return 1, 0, true
	case t <= 0x8f:
		return 1, 2 * int(t&0x0f), true
	case t <= 0x9f:
		return 1, int(t & 0x0f), true
	case t <= 0xbf:
		return 1 + int(t&0x1f), 0, true
	}

	switch t {
	case 0xc0, 0xc2, 0xc3:
		return 1, 0, true
	case 0xcc, 0xd0:
		return 2, 0, true
	case 0xcd, 0xd1:
		return 3, 0, true
	case 0xca, 0xce, 0xd2:
		return 5, 0, true
	case 0xcb, 0xcf, 0xd3:
		return 9, 0, true
	case 0xd4:
		return 3, 0, true
	case 0xd5:
		return 4, 0, true
	case 0xd6:
		return 6, 0, true
	case 0xd7:
		return 10, 0, true
	case 0xd8:
		return 18, 0, true
	case 0xc4, 0xd9:
		return payload(b, 1, 0), 0, true
	case 0xc5, 0xda:
		return payload(b, 2, 0), 0, true
	case 0xc6, 0xdb:
		return payload(b, 4, 0), 0, true
	case 0xc7:
		return payload(b, 1, 1), 0, true
	case 0xc8:
		return payload(b, 2, 1), 0, true
	case 0xc9:
		return payload(b, 4, 1), 0, true
	case 0xdc, 0xdd, 0xde, 0xdf:
		width := 2
		if t == 0xdd || t == 0xdf {
			width = 4
		}
		if len(b) < 1+width {
			return 0, 0, true
		}
		n := int(length(b[1:], width))
		if t >= 0xde {
			n *= 2
		}
		return 1 + width, n, true
	}
	return 0, 0, false
}

// payload sizes a str/bin/ext value: type byte, a big-endian length of
// width bytes, extra header bytes (the ext type) and the payload.
func payload(b []byte, width, extra int) int {
	if len(b) < 1+width {
		return 0
	}
	return 1 + width + extra + int(length(b[1:], width))
}

func length(b []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.BigEndian.Uint16(b))
	default:
		return binary.BigEndian.Uint32(b)
	}
}
