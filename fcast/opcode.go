package fcast

import (
	"fmt"

	"github.com/pkg/errors"
)

// Opcode identifies the schema of a packet body.
type Opcode uint8

const (
	OpNone Opcode = iota
	OpPlay
	OpPause
	OpResume
	OpStop
	OpSeek
	OpPlaybackUpdate
	OpVolumeUpdate
	OpSetVolume
	OpPlaybackError
	OpSetSpeed
	OpVersion
	OpPing
	OpPong
	OpInitial
	OpPlayUpdate
	OpSetPlaylistItem
	OpSubscribeEvent
	OpUnsubscribeEvent
	OpEvent
)

// ErrUnknownOpcode is matched by every UnknownOpcodeError.
var ErrUnknownOpcode = errors.New("fcast: unknown opcode")

// UnknownOpcodeError carries the raw byte that did not map to an Opcode.
type UnknownOpcodeError struct {
	Opcode byte
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("fcast: unknown opcode %d", e.Opcode)
}

func (e *UnknownOpcodeError) Is(target error) bool { return target == ErrUnknownOpcode }

var opcodeNames = [...]string{
	OpNone:             "None",
	OpPlay:             "Play",
	OpPause:            "Pause",
	OpResume:           "Resume",
	OpStop:             "Stop",
	OpSeek:             "Seek",
	OpPlaybackUpdate:   "PlaybackUpdate",
	OpVolumeUpdate:     "VolumeUpdate",
	OpSetVolume:        "SetVolume",
	OpPlaybackError:    "PlaybackError",
	OpSetSpeed:         "SetSpeed",
	OpVersion:          "Version",
	OpPing:             "Ping",
	OpPong:             "Pong",
	OpInitial:          "Initial",
	OpPlayUpdate:       "PlayUpdate",
	OpSetPlaylistItem:  "SetPlaylistItem",
	OpSubscribeEvent:   "SubscribeEvent",
	OpUnsubscribeEvent: "UnsubscribeEvent",
	OpEvent:            "Event",
}

// ParseOpcode maps a wire byte to its Opcode.
func ParseOpcode(b byte) (Opcode, error) {
	if int(b) >= len(opcodeNames) {
		return 0, &UnknownOpcodeError{Opcode: b}
	}
	return Opcode(b), nil
}

// Byte returns the wire representation.
func (o Opcode) Byte() byte {
	return byte(o)
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(o))
}
