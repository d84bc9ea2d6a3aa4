package session

import (
	"fmt"
	"strings"
)

// FrameType is the kind of protocol frame handed to the engine.
type FrameType uint8

const (
	FramePad FrameType = iota
	FrameData
	FrameNak
	FrameStatus
	FrameSetup
	FrameError
	FrameRTT
	FrameExtension
)

func (t FrameType) String() string {
	switch t {
	case FramePad:
		return "PAD"
	case FrameData:
		return "DATA"
	case FrameNak:
		return "NAK"
	case FrameStatus:
		return "SM"
	case FrameSetup:
		return "SETUP"
	case FrameError:
		return "ERR"
	case FrameRTT:
		return "RTTM"
	case FrameExtension:
		return "EXT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Data frame header flags.
const (
	FlagBegin uint8 = 0x80
	FlagEnd   uint8 = 0x40
	FlagEOS   uint8 = 0x20
)

// Frame carries the already-parsed header fields of one protocol frame.
// RecordID and ByteOffset together identify the frame within the input.
type Frame struct {
	RecordID     uint32
	ByteOffset   uint32
	Conversation string

	Type       FrameType
	Flags      uint8
	SessionID  uint32
	StreamID   uint32
	TermID     uint32
	TermOffset uint32
	Length     uint32
	DataLength uint32

	NakTermOffset  uint32
	NakLength      uint32
	ReceiverWindow uint32

	// Setup only.
	TermLength uint32
	MTU        uint32

	// Status message sender, identifies the receiver.
	SrcAddr string
	SrcPort uint16

	Payload []byte
}

// FrameID is the stable identity of a FrameRecord within one run. Zero means none.
type FrameID int

// FrameFlags classify a frame as a whole.
type FrameFlags uint8

const (
	FrameRetransmission FrameFlags = 1 << iota
	FrameKeepalive
	FrameReassembledMessage
)

func (f FrameFlags) String() string {
	var parts []string
	if f&FrameRetransmission != 0 {
		parts = append(parts, "RETRANSMISSION")
	}
	if f&FrameKeepalive != 0 {
		parts = append(parts, "KEEPALIVE")
	}
	if f&FrameReassembledMessage != 0 {
		parts = append(parts, "REASSEMBLED")
	}
	return strings.Join(parts, "|")
}

// Links holds the previous/next frame in one append-order chain.
type Links struct {
	Prev FrameID
	Next FrameID
}

// FrameRecord is everything the engine derived for one frame. Records handed
// out by the Manager are views; callers must not modify them.
type FrameRecord struct {
	ID         FrameID
	RecordID   uint32
	ByteOffset uint32
	Type       FrameType
	Flags      FrameFlags

	Transport Links
	Stream    Links
	Term      Links
	Fragment  Links

	Analysis *StreamAnalysis
	NakState *NakState
	Message  MessageID

	// NAKs this frame helped recover.
	Recovered []NakID
}

type frameKey struct {
	recordID   uint32
	byteOffset uint32
}

// FrameIndex maps (record id, byte offset) to frame records.
type FrameIndex struct {
	byKey  map[frameKey]FrameID
	frames []*FrameRecord
}

// NewFrameIndex creates an empty index.
func NewFrameIndex() *FrameIndex {
	return &FrameIndex{
		byKey:  make(map[frameKey]FrameID),
		frames: []*FrameRecord{nil},
	}
}

// Lookup returns the record for the given identity, or nil.
func (x *FrameIndex) Lookup(recordID, byteOffset uint32) *FrameRecord {
	id, ok := x.byKey[frameKey{recordID, byteOffset}]
	if !ok {
		return nil
	}
	return x.frames[id]
}

// GetOrCreate returns the record for the given identity, inserting a zero
// record the first time. The boolean reports whether it was created.
func (x *FrameIndex) GetOrCreate(recordID, byteOffset uint32) (*FrameRecord, bool) {
	if rec := x.Lookup(recordID, byteOffset); rec != nil {
		return rec, false
	}
	rec := &FrameRecord{
		ID:         FrameID(len(x.frames)),
		RecordID:   recordID,
		ByteOffset: byteOffset,
	}
	x.frames = append(x.frames, rec)
	x.byKey[frameKey{recordID, byteOffset}] = rec.ID
	return rec, true
}

// Get returns the record with the given id, or nil.
func (x *FrameIndex) Get(id FrameID) *FrameRecord {
	if id <= 0 || int(id) >= len(x.frames) {
		return nil
	}
	return x.frames[id]
}

// Len returns the number of records.
func (x *FrameIndex) Len() int {
	return len(x.frames) - 1
}

// All returns the records in creation order.
func (x *FrameIndex) All() []*FrameRecord {
	return x.frames[1:]
}

// link appends rec to a chain whose tail is *last, using sel to pick which
// Links pair of a record belongs to that chain.
func (x *FrameIndex) link(last *FrameID, rec *FrameRecord, sel func(*FrameRecord) *Links) {
	if prev := x.Get(*last); prev != nil {
		sel(prev).Next = rec.ID
		sel(rec).Prev = prev.ID
	}
	*last = rec.ID
}
