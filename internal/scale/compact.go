// Package scale implements the one primitive of the SCALE codec the
// harvester needs to reach for directly: Compact<u32>/Compact<BlockNumber>
// length-prefix encode/decode (§4.2 step 2 and step 4). Everything else —
// type-aware decoding of arbitrary runtime types — is delegated to the
// third-party codec library (internal/decode), per §1's explicit scoping of
// the SCALE codec itself as an external dependency. This one routine is
// kept in the standard library because it is a closed, four-branch bit
// layout with no metadata dependency; reaching into the external decoder
// just to encode a single integer would mean constructing a throwaway
// metadata-free scale.Decoder for no benefit.
package scale

import "fmt"

// EncodeCompactUint64 encodes n as a SCALE Compact integer.
func EncodeCompactUint64(n uint64) []byte {
	switch {
	case n < 1<<6:
		return []byte{byte(n << 2)}
	case n < 1<<14:
		v := uint16(n<<2) | 0b01
		return []byte{byte(v), byte(v >> 8)}
	case n < 1<<30:
		v := uint32(n<<2) | 0b10
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	default:
		var buf []byte
		for n > 0 {
			buf = append(buf, byte(n))
			n >>= 8
		}
		mode := byte(len(buf)-4) << 2
		mode |= 0b11
		return append([]byte{mode}, buf...)
	}
}

// DecodeCompactLengthPrefix splits b into (lengthPrefixBytes, remainder),
// where lengthPrefixBytes is the Compact<u32> length prefix at the front of
// b and remainder is everything after it. It returns an error if b is too
// short to contain the prefix it declares.
func DecodeCompactLengthPrefix(b []byte) (prefix []byte, remainder []byte, length uint64, err error) {
	if len(b) == 0 {
		return nil, nil, 0, fmt.Errorf("scale: empty input")
	}
	mode := b[0] & 0b11
	switch mode {
	case 0b00:
		return b[:1], b[1:], uint64(b[0] >> 2), nil
	case 0b01:
		if len(b) < 2 {
			return nil, nil, 0, fmt.Errorf("scale: truncated two-byte compact")
		}
		v := uint16(b[0]) | uint16(b[1])<<8
		return b[:2], b[2:], uint64(v >> 2), nil
	case 0b10:
		if len(b) < 4 {
			return nil, nil, 0, fmt.Errorf("scale: truncated four-byte compact")
		}
		v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		return b[:4], b[4:], uint64(v >> 2), nil
	default:
		numBytes := int(b[0]>>2) + 4
		if len(b) < 1+numBytes {
			return nil, nil, 0, fmt.Errorf("scale: truncated big-integer compact")
		}
		var v uint64
		for i := 0; i < numBytes; i++ {
			v |= uint64(b[1+i]) << (8 * i)
		}
		return b[:1+numBytes], b[1+numBytes:], v, nil
	}
}
