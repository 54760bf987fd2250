package plist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf16"
)

type encoder struct {
	objects []any
	// strings and integers are written once and shared.
	strings map[string]uint64
	ints    map[int64]uint64
	refs    map[int][]uint64
	refSize int
}

// Marshal encodes v as a binary plist. Maps must have string keys; slices
// may be []any or []string. Dictionary keys are written in sorted order.
func Marshal(v any) ([]byte, error) {
	e := &encoder{
		strings: make(map[string]uint64),
		ints:    make(map[int64]uint64),
		refs:    make(map[int][]uint64),
	}
	if _, err := e.flatten(v, 0); err != nil {
		return nil, err
	}
	e.refSize = sizeFor(uint64(len(e.objects)))

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString("00")

	offsets := make([]uint64, len(e.objects))
	for i, obj := range e.objects {
		offsets[i] = uint64(buf.Len())
		if err := e.write(&buf, i, obj); err != nil {
			return nil, err
		}
	}

	tableStart := uint64(buf.Len())
	offsetSize := sizeFor(tableStart)
	for _, off := range offsets {
		writeUint(&buf, off, offsetSize)
	}

	var tr [trailerSize]byte
	tr[6] = byte(offsetSize)
	tr[7] = byte(e.refSize)
	binary.BigEndian.PutUint64(tr[8:16], uint64(len(e.objects)))
	binary.BigEndian.PutUint64(tr[16:24], 0)
	binary.BigEndian.PutUint64(tr[24:32], tableStart)
	buf.Write(tr[:])

	return buf.Bytes(), nil
}

func (e *encoder) add(v any) uint64 {
	e.objects = append(e.objects, v)
	return uint64(len(e.objects) - 1)
}

// flatten assigns object indices depth first: a container, then its keys,
// then its values.
func (e *encoder) flatten(v any, depth int) (uint64, error) {
	if depth > maxDepth {
		return 0, fmt.Errorf("plist: nesting deeper than %d", maxDepth)
	}

	switch x := v.(type) {
	case string:
		if ref, ok := e.strings[x]; ok {
			return ref, nil
		}
		ref := e.add(x)
		e.strings[x] = ref
		return ref, nil
	case int:
		return e.flattenInt(int64(x)), nil
	case int32:
		return e.flattenInt(int64(x)), nil
	case int64:
		return e.flattenInt(x), nil
	case uint32:
		return e.flattenInt(int64(x)), nil
	case uint64:
		if x <= math.MaxInt64 {
			return e.flattenInt(int64(x)), nil
		}
		return e.add(x), nil
	case nil, bool, float32, float64, []byte, time.Time, UID:
		return e.add(v), nil
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return e.flatten(items, depth)
	case []any:
		ref := e.add(x)
		children := make([]uint64, len(x))
		for i, item := range x {
			c, err := e.flatten(item, depth+1)
			if err != nil {
				return 0, err
			}
			children[i] = c
		}
		e.refs[int(ref)] = children
		return ref, nil
	case map[string]any:
		ref := e.add(x)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		children := make([]uint64, 0, 2*len(keys))
		for _, k := range keys {
			c, _ := e.flatten(k, depth+1)
			children = append(children, c)
		}
		for _, k := range keys {
			c, err := e.flatten(x[k], depth+1)
			if err != nil {
				return 0, err
			}
			children = append(children, c)
		}
		e.refs[int(ref)] = children
		return ref, nil
	}

	return 0, fmt.Errorf("plist: unsupported type %T", v)
}

func (e *encoder) flattenInt(x int64) uint64 {
	if ref, ok := e.ints[x]; ok {
		return ref
	}
	ref := e.add(x)
	e.ints[x] = ref
	return ref
}

func (e *encoder) write(buf *bytes.Buffer, idx int, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(simpleNull)
	case bool:
		if x {
			buf.WriteByte(simpleTrue)
		} else {
			buf.WriteByte(simpleFalse)
		}
	case int64:
		writeInt(buf, x)
	case uint64:
		buf.WriteByte(markerInt<<4 | 4)
		buf.Write(make([]byte, 8))
		writeUint(buf, x, 8)
	case float32:
		buf.WriteByte(markerReal<<4 | 2)
		_ = binary.Write(buf, binary.BigEndian, math.Float32bits(x))
	case float64:
		buf.WriteByte(markerReal<<4 | 3)
		writeUint(buf, math.Float64bits(x), 8)
	case time.Time:
		buf.WriteByte(markerDate<<4 | 3)
		secs := x.Sub(epoch).Seconds()
		writeUint(buf, math.Float64bits(secs), 8)
	case []byte:
		writeHeader(buf, markerData, uint64(len(x)))
		buf.Write(x)
	case UID:
		n := sizeFor(uint64(x))
		buf.WriteByte(markerUID<<4 | byte(n-1))
		writeUint(buf, uint64(x), n)
	case string:
		if isASCII(x) {
			writeHeader(buf, markerASCII, uint64(len(x)))
			buf.WriteString(x)
			break
		}
		units := utf16.Encode([]rune(x))
		writeHeader(buf, markerUTF16, uint64(len(units)))
		for _, u := range units {
			writeUint(buf, uint64(u), 2)
		}
	case []any:
		refs := e.refs[idx]
		writeHeader(buf, markerArray, uint64(len(refs)))
		for _, r := range refs {
			writeUint(buf, r, e.refSize)
		}
	case map[string]any:
		refs := e.refs[idx]
		writeHeader(buf, markerDict, uint64(len(refs)/2))
		for _, r := range refs {
			writeUint(buf, r, e.refSize)
		}
	default:
		return fmt.Errorf("plist: unsupported type %T", v)
	}
	return nil
}

// writeHeader writes a marker with an inline count, or 0xF and a trailing
// int object when the count does not fit in the low nibble.
func writeHeader(buf *bytes.Buffer, marker byte, n uint64) {
	if n < 0x0F {
		buf.WriteByte(marker<<4 | byte(n))
		return
	}
	buf.WriteByte(marker<<4 | 0x0F)
	writeInt(buf, int64(n))
}

func writeInt(buf *bytes.Buffer, x int64) {
	switch {
	case x < 0:
		buf.WriteByte(markerInt<<4 | 3)
		writeUint(buf, uint64(x), 8)
	case x < 1<<8:
		buf.WriteByte(markerInt<<4 | 0)
		writeUint(buf, uint64(x), 1)
	case x < 1<<16:
		buf.WriteByte(markerInt<<4 | 1)
		writeUint(buf, uint64(x), 2)
	case x < 1<<32:
		buf.WriteByte(markerInt<<4 | 2)
		writeUint(buf, uint64(x), 4)
	default:
		buf.WriteByte(markerInt<<4 | 3)
		writeUint(buf, uint64(x), 8)
	}
}

func writeUint(buf *bytes.Buffer, v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}

func sizeFor(v uint64) int {
	switch {
	case v < 1<<8:
		return 1
	case v < 1<<16:
		return 2
	case v < 1<<32:
		return 4
	}
	return 8
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
