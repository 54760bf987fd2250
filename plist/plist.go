// Package plist reads and writes Apple binary property lists (bplist00).
//
// Decoded values use these Go types:
//
//	nil, bool, int64, uint64 (only for 16 byte integers above MaxInt64),
//	float64, string, []byte, time.Time, UID, []any, map[string]any
//
// Unmarshal never panics on malformed input; every failure is a *DecodeError.
package plist

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// UID is a keyed-archiver object reference.
type UID uint64

// ErrInvalid is matched by every DecodeError.
var ErrInvalid = errors.New("plist: invalid binary plist")

// DecodeError describes why a document was rejected.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "plist: " + e.Reason
}

func (e *DecodeError) Is(target error) bool { return target == ErrInvalid }

func decodeErr(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

const (
	magic       = "bplist"
	headerSize  = 8
	trailerSize = 32

	// MaxObjects bounds the object table of documents we accept.
	MaxObjects = 1 << 16
	maxDepth   = 256
	maxVisits  = 1 << 20

	// Keeps the nanosecond conversion of dates inside int64.
	maxDateSeconds = 9e9
)

// Apple's reference date for binary plist dates.
var epoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Object markers, high nibble.
const (
	markerSimple = 0x0
	markerInt    = 0x1
	markerReal   = 0x2
	markerDate   = 0x3
	markerData   = 0x4
	markerASCII  = 0x5
	markerUTF16  = 0x6
	markerUID    = 0x8
	markerArray  = 0xA
	markerDict   = 0xD
)

const (
	simpleNull  = 0x00
	simpleFalse = 0x08
	simpleTrue  = 0x09
	simpleFill  = 0x0F
)
