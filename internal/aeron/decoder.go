package aeron

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Frame types.
const (
	TypePad       uint16 = 0x00
	TypeData      uint16 = 0x01
	TypeNak       uint16 = 0x02
	TypeStatus    uint16 = 0x03
	TypeError     uint16 = 0x04
	TypeSetup     uint16 = 0x05
	TypeRTT       uint16 = 0x06
	TypeExtension uint16 = 0xFFFF
)

// DATA frame flags.
const (
	FlagBegin uint8 = 0x80
	FlagEnd   uint8 = 0x40
	FlagEOS   uint8 = 0x20
)

// Header lengths per frame type.
const (
	BaseHeaderLength   = 8
	DataHeaderLength   = 32
	NakHeaderLength    = 28
	StatusHeaderLength = 36
	SetupHeaderLength  = 40
	ErrorHeaderLength  = 28
	RTTHeaderLength    = 40

	// statusMinLength is an SM without the trailing receiver id.
	statusMinLength = 28
)

// FrameAlignment is the alignment of frames within a datagram and a term.
const FrameAlignment = 32

// MaxPadLength is the largest PAD frame_length whose aligned term size fits
// in 32 bits.
const MaxPadLength = math.MaxUint32 &^ (FrameAlignment - 1)

var (
	// ErrShortFrame means the datagram ends inside a frame header or body.
	ErrShortFrame = errors.New("short aeron frame")
	// ErrBadFrameLength means a frame_length is smaller than its type's header
	// or, for PAD, too large to align.
	ErrBadFrameLength = errors.New("bad aeron frame length")
)

// Header is one decoded Aeron frame. Fields that the frame type does not
// carry are left zero.
type Header struct {
	// Offset is the frame's byte offset within its datagram.
	Offset      int
	FrameLength uint32
	Version     uint8
	Flags       uint8
	Type        uint16

	SessionID  uint32
	StreamID   uint32
	TermID     uint32
	TermOffset uint32

	// NAK
	NakTermOffset uint32
	NakLength     uint32

	// SM
	ReceiverWindow uint32
	ReceiverID     uint64

	// SETUP
	InitialTermID uint32
	TermLength    uint32
	MTU           uint32
	TTL           uint32

	// Payload is the DATA frame body. It aliases the datagram.
	Payload []byte
}

// IsHeartbeat reports whether h is a zero length DATA frame.
func (h *Header) IsHeartbeat() bool {
	return h.Type == TypeData && h.FrameLength == 0
}

// TermBytes returns the number of term bytes a DATA or PAD frame occupies.
func (h *Header) TermBytes() uint32 {
	if h.Type != TypeData && h.Type != TypePad {
		return 0
	}
	return Align(h.FrameLength, FrameAlignment)
}

// Align rounds v up to a multiple of alignment, a power of two.
func Align(v, alignment uint32) uint32 {
	return (v + alignment - 1) &^ (alignment - 1)
}

// Decode parses every frame in a datagram. On error it returns the frames
// decoded before the malformed one.
func Decode(datagram []byte) ([]Header, error) {
	var headers []Header
	offset := 0
	for offset < len(datagram) {
		h, next, err := decodeFrame(datagram, offset)
		if err != nil {
			return headers, fmt.Errorf("failed to decode frame at offset %d: %w", offset, err)
		}
		headers = append(headers, h)
		offset = next
	}
	return headers, nil
}

func decodeFrame(datagram []byte, offset int) (Header, int, error) {
	buf := datagram[offset:]
	if len(buf) < BaseHeaderLength {
		return Header{}, 0, ErrShortFrame
	}
	le := binary.LittleEndian
	h := Header{
		Offset:      offset,
		FrameLength: le.Uint32(buf[0:]),
		Version:     buf[4],
		Flags:       buf[5],
		Type:        le.Uint16(buf[6:]),
	}

	minLength := headerLength(h.Type)
	if len(buf) < minLength {
		return Header{}, 0, ErrShortFrame
	}
	// A heartbeat is a DATA frame with frame_length 0 and a full header.
	if !h.IsHeartbeat() && int(h.FrameLength) < minLength {
		return Header{}, 0, fmt.Errorf("%w: type %s length %d", ErrBadFrameLength, TypeName(h.Type), h.FrameLength)
	}
	if h.Type == TypePad && h.FrameLength > MaxPadLength {
		return Header{}, 0, fmt.Errorf("%w: PAD length %d", ErrBadFrameLength, h.FrameLength)
	}

	// PAD frames describe term padding; only the header travels.
	wire := int(h.FrameLength)
	if h.Type == TypePad || h.FrameLength == 0 {
		wire = minLength
	}
	if len(buf) < wire {
		return Header{}, 0, ErrShortFrame
	}

	switch h.Type {
	case TypeData, TypePad:
		h.TermOffset = le.Uint32(buf[8:])
		h.SessionID = le.Uint32(buf[12:])
		h.StreamID = le.Uint32(buf[16:])
		h.TermID = le.Uint32(buf[20:])
		if h.Type == TypeData && wire > DataHeaderLength {
			h.Payload = buf[DataHeaderLength:wire]
		}
	case TypeNak:
		h.SessionID = le.Uint32(buf[8:])
		h.StreamID = le.Uint32(buf[12:])
		h.TermID = le.Uint32(buf[16:])
		h.NakTermOffset = le.Uint32(buf[20:])
		h.NakLength = le.Uint32(buf[24:])
	case TypeStatus:
		h.SessionID = le.Uint32(buf[8:])
		h.StreamID = le.Uint32(buf[12:])
		h.TermID = le.Uint32(buf[16:])
		h.TermOffset = le.Uint32(buf[20:])
		h.ReceiverWindow = le.Uint32(buf[24:])
		if wire >= StatusHeaderLength {
			h.ReceiverID = le.Uint64(buf[28:])
		}
	case TypeSetup:
		h.TermOffset = le.Uint32(buf[8:])
		h.SessionID = le.Uint32(buf[12:])
		h.StreamID = le.Uint32(buf[16:])
		h.InitialTermID = le.Uint32(buf[20:])
		h.TermID = le.Uint32(buf[24:])
		h.TermLength = le.Uint32(buf[28:])
		h.MTU = le.Uint32(buf[32:])
		h.TTL = le.Uint32(buf[36:])
	case TypeError:
		h.SessionID = le.Uint32(buf[8:])
		h.StreamID = le.Uint32(buf[12:])
	case TypeRTT:
		h.SessionID = le.Uint32(buf[8:])
		h.StreamID = le.Uint32(buf[12:])
		h.ReceiverID = le.Uint64(buf[32:])
	}

	next := offset + int(Align(uint32(wire), FrameAlignment))
	if next > len(datagram) {
		next = len(datagram)
	}
	return h, next, nil
}

func headerLength(frameType uint16) int {
	switch frameType {
	case TypeData, TypePad:
		return DataHeaderLength
	case TypeNak:
		return NakHeaderLength
	case TypeStatus:
		return statusMinLength
	case TypeSetup:
		return SetupHeaderLength
	case TypeError:
		return ErrorHeaderLength
	case TypeRTT:
		return RTTHeaderLength
	default:
		return BaseHeaderLength
	}
}

// TypeName returns a human-readable name for an Aeron frame type.
func TypeName(frameType uint16) string {
	switch frameType {
	case TypePad:
		return "PAD"
	case TypeData:
		return "DATA"
	case TypeNak:
		return "NAK"
	case TypeStatus:
		return "SM"
	case TypeError:
		return "ERR"
	case TypeSetup:
		return "SETUP"
	case TypeRTT:
		return "RTTM"
	case TypeExtension:
		return "EXT"
	default:
		return fmt.Sprintf("Unknown(%d)", frameType)
	}
}
