package charms

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

const (
	majorArray = 4
	majorMap   = 5
	majorTag   = 6
)

// canonicalize re-encodes one well-formed CBOR data item in core
// deterministic form. Items the generic decoder cannot represent, such as
// maps keyed by arrays or maps, are rebuilt element by element.
func canonicalize(b []byte) ([]byte, error) {
	if err := decMode.Wellformed(b); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return canonicalItem(b)
}

func canonicalItem(b []byte) ([]byte, error) {
	var v any
	err := Unmarshal(b, &v)
	if err == nil {
		var out []byte
		if out, err = Marshal(v); err == nil {
			return out, nil
		}
	}

	major, n, size, headErr := readHead(b)
	if headErr != nil {
		return nil, headErr
	}
	rest := b[size:]
	switch major {
	case majorArray:
		out := appendHead(nil, majorArray, n)
		for i := uint64(0); i < n; i++ {
			var item []byte
			if item, rest, err = nextItem(rest); err != nil {
				return nil, err
			}
			out = append(out, item...)
		}
		return out, nil

	case majorMap:
		type entry struct{ key, value []byte }
		entries := make([]entry, 0, min(n, uint64(len(rest))))
		for i := uint64(0); i < n; i++ {
			var e entry
			if e.key, rest, err = nextItem(rest); err != nil {
				return nil, err
			}
			if e.value, rest, err = nextItem(rest); err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		slices.SortFunc(entries, func(a, b entry) int { return bytes.Compare(a.key, b.key) })
		out := appendHead(nil, majorMap, n)
		for i, e := range entries {
			if i > 0 && bytes.Equal(entries[i-1].key, e.key) {
				return nil, fmt.Errorf("canonical decode: duplicate map key %x", e.key)
			}
			out = append(out, e.key...)
			out = append(out, e.value...)
		}
		return out, nil

	case majorTag:
		content, _, err := nextItem(rest)
		if err != nil {
			return nil, err
		}
		return append(appendHead(nil, majorTag, n), content...), nil
	}
	return nil, err
}

// nextItem canonicalizes the first data item in b and returns the bytes
// that follow it.
func nextItem(b []byte) (item, rest []byte, err error) {
	var raw cbor.RawMessage
	if rest, err = decMode.UnmarshalFirst(b, &raw); err != nil {
		return nil, nil, fmt.Errorf("canonical decode: %w", err)
	}
	item, err = canonicalItem(raw)
	return item, rest, err
}

// readHead parses a definite-length item head.
func readHead(b []byte) (major byte, n uint64, size int, err error) {
	if len(b) == 0 {
		return 0, 0, 0, fmt.Errorf("canonical decode: empty item")
	}
	major = b[0] >> 5
	switch ai := b[0] & 0x1f; {
	case ai < 24:
		return major, uint64(ai), 1, nil
	case ai == 24 && len(b) >= 2:
		return major, uint64(b[1]), 2, nil
	case ai == 25 && len(b) >= 3:
		return major, uint64(binary.BigEndian.Uint16(b[1:])), 3, nil
	case ai == 26 && len(b) >= 5:
		return major, uint64(binary.BigEndian.Uint32(b[1:])), 5, nil
	case ai == 27 && len(b) >= 9:
		return major, binary.BigEndian.Uint64(b[1:]), 9, nil
	}
	return 0, 0, 0, fmt.Errorf("canonical decode: unsupported item head 0x%02x", b[0])
}

// appendHead appends the shortest head for major type and argument n.
func appendHead(dst []byte, major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return append(dst, m|byte(n))
	case n <= math.MaxUint8:
		return append(dst, m|24, byte(n))
	case n <= math.MaxUint16:
		return binary.BigEndian.AppendUint16(append(dst, m|25), uint16(n))
	case n <= math.MaxUint32:
		return binary.BigEndian.AppendUint32(append(dst, m|26), uint32(n))
	default:
		return binary.BigEndian.AppendUint64(append(dst, m|27), n)
	}
}
