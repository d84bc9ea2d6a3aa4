package session

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// ErrReassemblyInvariant means the derived message state is corrupt. It can
// only follow from inconsistent inputs and is fatal for the run.
var ErrReassemblyInvariant = errors.New("reassembly invariant violated")

// MessageID is the identity of a Message within one run. Zero means none.
type MessageID int

// Message is an application message reassembled from DATA fragments of a term.
type Message struct {
	ID     MessageID
	TermID uint32

	FirstTermOffset        uint32
	NextExpectedTermOffset uint32
	Length                 uint32
	ContiguousLength       uint32
	FragmentCount          int

	FirstFrame  FrameID
	LastFrame   FrameID
	MinRecordID uint32
	MaxRecordID uint32

	Complete    bool
	CompletedBy FrameID
	Data        []byte

	term      *Term
	fragments []messageFragment
}

type messageFragment struct {
	termOffset uint32
	length     uint32
	dataLength uint32
	flags      uint8
	frame      FrameID
	recordID   uint32
	payload    []byte
}

func (msg *Message) hasFragment(termOffset uint32) bool {
	for _, frag := range msg.fragments {
		if frag.termOffset == termOffset {
			return true
		}
	}
	return false
}

// lookupMessage returns the message with the greatest first fragment offset
// that is <= termOffset.
func (m *Manager) lookupMessage(term *Term, termOffset uint32) *Message {
	i := sort.Search(len(term.msgOrder), func(i int) bool { return term.msgOrder[i] > termOffset })
	if i == 0 {
		return nil
	}
	return m.messages[term.messages[term.msgOrder[i-1]]]
}

func (m *Manager) newMessage(term *Term, termOffset uint32) *Message {
	msg := &Message{
		ID:                     MessageID(len(m.messages)),
		TermID:                 term.ID,
		FirstTermOffset:        termOffset,
		NextExpectedTermOffset: termOffset,
		term:                   term,
	}
	m.messages = append(m.messages, msg)

	i := sort.Search(len(term.msgOrder), func(i int) bool { return term.msgOrder[i] >= termOffset })
	term.msgOrder = append(term.msgOrder, 0)
	copy(term.msgOrder[i+1:], term.msgOrder[i:])
	term.msgOrder[i] = termOffset
	term.messages[termOffset] = msg.ID
	return msg
}

// reassemble feeds one DATA frame to the term's message state.
func (m *Manager) reassemble(term *Term, rec *FrameRecord, f Frame) error {
	if f.Type != FrameData || f.Flags&(FlagBegin|FlagEnd) == FlagBegin|FlagEnd {
		return nil
	}
	// Heartbeats carry no message bytes.
	if f.Length == 0 || f.DataLength == 0 {
		return nil
	}

	frag := messageFragment{
		termOffset: f.TermOffset,
		length:     f.Length,
		dataLength: f.DataLength,
		flags:      f.Flags,
		frame:      rec.ID,
		recordID:   rec.RecordID,
		payload:    append([]byte(nil), f.Payload...),
	}

	var owner *Message
	if f.Flags&FlagBegin != 0 {
		owner = m.lookupMessage(term, f.TermOffset)
		if owner == nil || owner.FirstTermOffset != f.TermOffset {
			owner = m.newMessage(term, f.TermOffset)
		}
	} else if msg := m.lookupMessage(term, f.TermOffset); msg != nil {
		if !msg.Complete && msg.NextExpectedTermOffset == f.TermOffset {
			owner = msg
		} else if msg.hasFragment(f.TermOffset) {
			return nil
		}
	}

	if owner == nil {
		for _, o := range term.orphans {
			if o.termOffset == f.TermOffset {
				return nil
			}
		}
		term.orphans = append(term.orphans, frag)
	} else {
		if owner.hasFragment(f.TermOffset) {
			return nil
		}
		if err := m.appendFragment(owner, frag); err != nil {
			return err
		}
	}
	return m.attachOrphans(term)
}

// attachOrphans moves orphans onto in-progress messages until no orphan
// continues any message. Each attachment shrinks the orphan list, so the
// loop is bounded by its length.
func (m *Manager) attachOrphans(term *Term) error {
	for progress := true; progress; {
		progress = false
		for i, o := range term.orphans {
			msg := m.expectingMessage(term, o.termOffset)
			if msg == nil {
				continue
			}
			term.orphans = append(term.orphans[:i], term.orphans[i+1:]...)
			if err := m.appendFragment(msg, o); err != nil {
				return err
			}
			progress = true
			break
		}
	}
	return nil
}

func (m *Manager) expectingMessage(term *Term, termOffset uint32) *Message {
	for _, off := range term.msgOrder {
		msg := m.messages[term.messages[off]]
		if !msg.Complete && msg.NextExpectedTermOffset == termOffset {
			return msg
		}
	}
	return nil
}

func (m *Manager) appendFragment(msg *Message, frag messageFragment) error {
	msg.fragments = append(msg.fragments, frag)
	msg.Length += frag.dataLength
	msg.FragmentCount++
	msg.NextExpectedTermOffset += frag.length
	msg.ContiguousLength = msg.NextExpectedTermOffset - msg.FirstTermOffset
	if msg.FirstFrame == 0 {
		msg.FirstFrame = frag.frame
		msg.MinRecordID = frag.recordID
		msg.MaxRecordID = frag.recordID
	}
	msg.LastFrame = frag.frame
	if frag.recordID < msg.MinRecordID {
		msg.MinRecordID = frag.recordID
	}
	if frag.recordID > msg.MaxRecordID {
		msg.MaxRecordID = frag.recordID
	}

	if frag.flags&FlagEnd == 0 {
		return nil
	}
	return m.completeMessage(msg)
}

func (m *Manager) completeMessage(msg *Message) error {
	var buf bytes.Buffer
	for _, frag := range msg.fragments {
		buf.Write(frag.payload)
	}
	if uint32(buf.Len()) != msg.Length {
		return fmt.Errorf("%w: message at %d/%d has %d bytes, expected %d",
			ErrReassemblyInvariant, msg.TermID, msg.FirstTermOffset, buf.Len(), msg.Length)
	}
	last := msg.fragments[len(msg.fragments)-1]
	if last.frame != msg.LastFrame {
		return fmt.Errorf("%w: message at %d/%d last frame %d, recorded %d",
			ErrReassemblyInvariant, msg.TermID, msg.FirstTermOffset, last.frame, msg.LastFrame)
	}

	msg.Complete = true
	msg.Data = buf.Bytes()
	msg.CompletedBy = last.frame

	rec := m.index.Get(last.frame)
	rec.Message = msg.ID
	rec.Flags |= FrameReassembledMessage
	msg.term.stream.counters.messages++
	return nil
}
