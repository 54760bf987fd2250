package plist

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf16"
)

type trailer struct {
	offsetSize  int
	refSize     int
	numObjects  uint64
	topObject   uint64
	offsetTable uint64
}

type decoder struct {
	data    []byte
	tr      trailer
	offsets []uint64
	// objects are only read from data[headerSize:limit].
	limit  uint64
	active map[uint64]bool
	visits int
}

// Unmarshal decodes a binary plist document.
func Unmarshal(data []byte) (any, error) {
	if len(data) < headerSize+trailerSize {
		return nil, decodeErr("document too short (%d bytes)", len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, decodeErr("bad magic")
	}
	if string(data[len(magic):headerSize]) != "00" {
		return nil, decodeErr("unsupported version %q", data[len(magic):headerSize])
	}

	tr, err := parseTrailer(data)
	if err != nil {
		return nil, err
	}

	d := &decoder{
		data:   data,
		tr:     tr,
		limit:  tr.offsetTable,
		active: make(map[uint64]bool),
	}
	if err := d.readOffsets(); err != nil {
		return nil, err
	}

	return d.object(tr.topObject, 0)
}

func parseTrailer(data []byte) (trailer, error) {
	t := data[len(data)-trailerSize:]
	tr := trailer{
		offsetSize:  int(t[6]),
		refSize:     int(t[7]),
		numObjects:  binary.BigEndian.Uint64(t[8:16]),
		topObject:   binary.BigEndian.Uint64(t[16:24]),
		offsetTable: binary.BigEndian.Uint64(t[24:32]),
	}

	body := uint64(len(data) - trailerSize)
	switch {
	case tr.offsetSize < 1 || tr.offsetSize > 8:
		return tr, decodeErr("invalid offset size %d", tr.offsetSize)
	case tr.refSize < 1 || tr.refSize > 8:
		return tr, decodeErr("invalid object ref size %d", tr.refSize)
	case tr.numObjects == 0:
		return tr, decodeErr("no objects")
	case tr.numObjects > MaxObjects:
		return tr, decodeErr("too many objects (%d)", tr.numObjects)
	case tr.topObject >= tr.numObjects:
		return tr, decodeErr("top object %d out of range", tr.topObject)
	case tr.offsetTable < headerSize || tr.offsetTable > body:
		return tr, decodeErr("offset table start %d out of range", tr.offsetTable)
	}

	// numObjects is bounded above, so this cannot overflow.
	if tr.offsetTable+tr.numObjects*uint64(tr.offsetSize) > body {
		return tr, decodeErr("offset table of %d entries does not fit", tr.numObjects)
	}
	if tr.refSize < 8 && tr.numObjects > uint64(1)<<(8*tr.refSize) {
		return tr, decodeErr("object ref size %d too small for %d objects", tr.refSize, tr.numObjects)
	}

	return tr, nil
}

func (d *decoder) readOffsets() error {
	d.offsets = make([]uint64, d.tr.numObjects)
	pos := d.tr.offsetTable
	for i := range d.offsets {
		off := readUint(d.data[pos : pos+uint64(d.tr.offsetSize)])
		if off < headerSize || off >= d.limit {
			return decodeErr("object %d offset %d out of range", i, off)
		}
		d.offsets[i] = off
		pos += uint64(d.tr.offsetSize)
	}
	return nil
}

// bytes returns n bytes at pos, bounded by the start of the offset table.
func (d *decoder) bytes(pos, n uint64) ([]byte, error) {
	if pos > d.limit || n > d.limit-pos {
		return nil, decodeErr("object at %d overruns object table", pos)
	}
	return d.data[pos : pos+n], nil
}

func (d *decoder) object(ref uint64, depth int) (any, error) {
	if ref >= d.tr.numObjects {
		return nil, decodeErr("object ref %d out of range", ref)
	}
	if depth > maxDepth {
		return nil, decodeErr("nesting deeper than %d", maxDepth)
	}
	if d.active[ref] {
		return nil, decodeErr("object %d references itself", ref)
	}
	// Shared references are legal, so bound the total work as well.
	d.visits++
	if d.visits > maxVisits {
		return nil, decodeErr("too many object visits")
	}

	pos := d.offsets[ref]
	m, err := d.bytes(pos, 1)
	if err != nil {
		return nil, err
	}
	marker := m[0]
	hi, lo := marker>>4, marker&0x0F
	pos++

	switch hi {
	case markerSimple:
		switch marker {
		case simpleNull, simpleFill:
			return nil, nil
		case simpleFalse:
			return false, nil
		case simpleTrue:
			return true, nil
		}
		return nil, decodeErr("unknown simple marker %#x", marker)

	case markerInt:
		v, _, err := d.integer(pos, lo)
		return v, err

	case markerReal:
		switch lo {
		case 2:
			b, err := d.bytes(pos, 4)
			if err != nil {
				return nil, err
			}
			return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
		case 3:
			b, err := d.bytes(pos, 8)
			if err != nil {
				return nil, err
			}
			return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
		}
		return nil, decodeErr("invalid real size marker %#x", marker)

	case markerDate:
		if lo != 3 {
			return nil, decodeErr("invalid date marker %#x", marker)
		}
		b, err := d.bytes(pos, 8)
		if err != nil {
			return nil, err
		}
		secs := math.Float64frombits(binary.BigEndian.Uint64(b))
		if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxDateSeconds {
			return nil, decodeErr("date out of range")
		}
		return epoch.Add(time.Duration(secs * float64(time.Second))), nil

	case markerData, markerASCII, markerUTF16:
		n, pos, err := d.count(pos, lo)
		if err != nil {
			return nil, err
		}
		size := n
		if hi == markerUTF16 {
			if n > math.MaxUint64/2 {
				return nil, decodeErr("string too long")
			}
			size = n * 2
		}
		b, err := d.bytes(pos, size)
		if err != nil {
			return nil, err
		}
		switch hi {
		case markerData:
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		case markerASCII:
			return string(b), nil
		}
		units := make([]uint16, n)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(b[2*i:])
		}
		return string(utf16.Decode(units)), nil

	case markerUID:
		b, err := d.bytes(pos, uint64(lo)+1)
		if err != nil {
			return nil, err
		}
		if len(b) > 8 {
			return nil, decodeErr("uid too large")
		}
		return UID(readUint(b)), nil

	case markerArray:
		n, pos, err := d.count(pos, lo)
		if err != nil {
			return nil, err
		}
		refs, err := d.refs(pos, n)
		if err != nil {
			return nil, err
		}
		d.active[ref] = true
		defer delete(d.active, ref)

		out := make([]any, 0, len(refs))
		for _, r := range refs {
			v, err := d.object(r, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case markerDict:
		n, pos, err := d.count(pos, lo)
		if err != nil {
			return nil, err
		}
		if n > math.MaxUint64/2 {
			return nil, decodeErr("dictionary too large")
		}
		refs, err := d.refs(pos, 2*n)
		if err != nil {
			return nil, err
		}
		d.active[ref] = true
		defer delete(d.active, ref)

		out := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			k, err := d.object(refs[i], depth+1)
			if err != nil {
				return nil, err
			}
			key, ok := k.(string)
			if !ok {
				return nil, decodeErr("dictionary key is %T, not a string", k)
			}
			v, err := d.object(refs[n+i], depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}

	return nil, decodeErr("unknown object marker %#x", marker)
}

// integer reads an int object body of 2^lo bytes at pos.
func (d *decoder) integer(pos uint64, lo byte) (any, uint64, error) {
	if lo > 4 {
		return nil, 0, decodeErr("invalid integer size marker %#x", lo)
	}
	n := uint64(1) << lo
	b, err := d.bytes(pos, n)
	if err != nil {
		return nil, 0, err
	}

	switch n {
	case 1, 2, 4:
		return int64(readUint(b)), n, nil
	case 8:
		return int64(binary.BigEndian.Uint64(b)), n, nil
	}

	// 16 byte integers carry unsigned 64-bit values above MaxInt64.
	hiPart := binary.BigEndian.Uint64(b[:8])
	loPart := binary.BigEndian.Uint64(b[8:])
	if hiPart != 0 {
		return nil, 0, decodeErr("integer does not fit in 64 bits")
	}
	if loPart <= math.MaxInt64 {
		return int64(loPart), n, nil
	}
	return loPart, n, nil
}

// count resolves the length of a data, string or container object. A low
// nibble of 0xF means the length follows as an int object.
func (d *decoder) count(pos uint64, lo byte) (uint64, uint64, error) {
	if lo != 0x0F {
		return uint64(lo), pos, nil
	}

	m, err := d.bytes(pos, 1)
	if err != nil {
		return 0, 0, err
	}
	if m[0]>>4 != markerInt {
		return 0, 0, decodeErr("length marker %#x is not an integer", m[0])
	}

	v, size, err := d.integer(pos+1, m[0]&0x0F)
	if err != nil {
		return 0, 0, err
	}

	var n uint64
	switch x := v.(type) {
	case int64:
		if x < 0 {
			return 0, 0, decodeErr("negative length")
		}
		n = uint64(x)
	case uint64:
		n = x
	}

	return n, pos + 1 + size, nil
}

func (d *decoder) refs(pos, n uint64) ([]uint64, error) {
	size := uint64(d.tr.refSize)
	if n > (d.limit-min(pos, d.limit))/size {
		return nil, decodeErr("container at %d overruns object table", pos)
	}

	b, err := d.bytes(pos, n*size)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, n)
	for i := range out {
		out[i] = readUint(b[uint64(i)*size : uint64(i+1)*size])
	}
	return out, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
