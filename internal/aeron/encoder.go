package aeron

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes h as one frame padded to FrameAlignment. FrameLength is
// derived from the type and payload, except for PAD frames where the caller
// sets the padded term length.
func Encode(h Header) ([]byte, error) {
	le := binary.LittleEndian
	hdrLen := headerLength(h.Type)
	if h.Type == TypeStatus {
		hdrLen = StatusHeaderLength
	}

	frameLength := uint32(hdrLen)
	switch h.Type {
	case TypeData:
		if h.FrameLength == 0 && len(h.Payload) == 0 {
			frameLength = 0
		} else {
			frameLength = uint32(DataHeaderLength + len(h.Payload))
		}
	case TypePad:
		if h.FrameLength < DataHeaderLength || h.FrameLength > MaxPadLength {
			return nil, fmt.Errorf("failed to encode PAD frame: %w: length %d", ErrBadFrameLength, h.FrameLength)
		}
		frameLength = h.FrameLength
	case TypeNak, TypeStatus, TypeSetup, TypeError, TypeRTT, TypeExtension:
	default:
		return nil, fmt.Errorf("failed to encode frame: unknown type %d", h.Type)
	}

	wire := hdrLen
	if h.Type == TypeData {
		wire += len(h.Payload)
	}
	b := make([]byte, Align(uint32(wire), FrameAlignment))

	le.PutUint32(b[0:], frameLength)
	b[4] = h.Version
	b[5] = h.Flags
	le.PutUint16(b[6:], h.Type)

	switch h.Type {
	case TypeData, TypePad:
		le.PutUint32(b[8:], h.TermOffset)
		le.PutUint32(b[12:], h.SessionID)
		le.PutUint32(b[16:], h.StreamID)
		le.PutUint32(b[20:], h.TermID)
		copy(b[DataHeaderLength:], h.Payload)
	case TypeNak:
		le.PutUint32(b[8:], h.SessionID)
		le.PutUint32(b[12:], h.StreamID)
		le.PutUint32(b[16:], h.TermID)
		le.PutUint32(b[20:], h.NakTermOffset)
		le.PutUint32(b[24:], h.NakLength)
	case TypeStatus:
		le.PutUint32(b[8:], h.SessionID)
		le.PutUint32(b[12:], h.StreamID)
		le.PutUint32(b[16:], h.TermID)
		le.PutUint32(b[20:], h.TermOffset)
		le.PutUint32(b[24:], h.ReceiverWindow)
		le.PutUint64(b[28:], h.ReceiverID)
	case TypeSetup:
		le.PutUint32(b[8:], h.TermOffset)
		le.PutUint32(b[12:], h.SessionID)
		le.PutUint32(b[16:], h.StreamID)
		le.PutUint32(b[20:], h.InitialTermID)
		le.PutUint32(b[24:], h.TermID)
		le.PutUint32(b[28:], h.TermLength)
		le.PutUint32(b[32:], h.MTU)
		le.PutUint32(b[36:], h.TTL)
	case TypeError:
		le.PutUint32(b[8:], h.SessionID)
		le.PutUint32(b[12:], h.StreamID)
	case TypeRTT:
		le.PutUint32(b[8:], h.SessionID)
		le.PutUint32(b[12:], h.StreamID)
		le.PutUint64(b[32:], h.ReceiverID)
	}
	return b, nil
}

// EncodeDatagram concatenates frames into one datagram.
func EncodeDatagram(headers ...Header) ([]byte, error) {
	var out []byte
	for i, h := range headers {
		b, err := Encode(h)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// DataFrame builds a DATA header.
func DataFrame(session, stream, termID, termOffset uint32, flags uint8, payload []byte) Header {
	return Header{
		Type:       TypeData,
		Flags:      flags,
		SessionID:  session,
		StreamID:   stream,
		TermID:     termID,
		TermOffset: termOffset,
		Payload:    payload,
	}
}

// SetupFrame builds a SETUP header for a stream starting at termID.
func SetupFrame(session, stream, termID, termLength, mtu uint32) Header {
	return Header{
		Type:          TypeSetup,
		SessionID:     session,
		StreamID:      stream,
		InitialTermID: termID,
		TermID:        termID,
		TermLength:    termLength,
		MTU:           mtu,
	}
}

// NakFrame builds a NAK header requesting [termOffset, termOffset+length).
func NakFrame(session, stream, termID, termOffset, length uint32) Header {
	return Header{
		Type:          TypeNak,
		SessionID:     session,
		StreamID:      stream,
		TermID:        termID,
		NakTermOffset: termOffset,
		NakLength:     length,
	}
}

// StatusFrame builds an SM header.
func StatusFrame(session, stream, termID, termOffset, window uint32, receiverID uint64) Header {
	return Header{
		Type:           TypeStatus,
		SessionID:      session,
		StreamID:       stream,
		TermID:         termID,
		TermOffset:     termOffset,
		ReceiverWindow: window,
		ReceiverID:     receiverID,
	}
}
