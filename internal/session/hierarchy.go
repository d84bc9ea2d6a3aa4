package session

import (
	"sort"

	"aeron-analyzer/internal/position"
)

// TransportKey identifies a transport: a session id within a conversation.
type TransportKey struct {
	Conversation string
	SessionID    uint32
}

// Transport is one publication session seen in a conversation.
type Transport struct {
	Key TransportKey

	streams map[uint32]*Stream
	last    FrameID
}

func newTransport(key TransportKey) *Transport {
	return &Transport{Key: key, streams: make(map[uint32]*Stream)}
}

// Stream returns the stream with the given id, or nil.
func (t *Transport) Stream(id uint32) *Stream {
	return t.streams[id]
}

// Streams returns the transport's streams ordered by stream id.
func (t *Transport) Streams() []*Stream {
	out := make([]*Stream, 0, len(t.streams))
	for _, s := range t.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LastFrame returns the tail of the transport-wide frame chain.
func (t *Transport) LastFrame() FrameID {
	return t.last
}

func (t *Transport) getOrCreateStream(id uint32) *Stream {
	s, ok := t.streams[id]
	if !ok {
		s = &Stream{ID: id, transport: t, terms: make(map[uint32]*Term)}
		t.streams[id] = s
	}
	return s
}

func (t *Transport) appendFrame(idx *FrameIndex, rec *FrameRecord) {
	idx.link(&t.last, rec, func(r *FrameRecord) *Links { return &r.Transport })
}

// Receiver is one SM sender observed on a stream.
type Receiver struct {
	Addr      string
	Port      uint16
	Completed position.Position
	Window    uint32
}

// Stream is one data flow within a transport.
type Stream struct {
	ID         uint32
	TermLength uint32
	MTU        uint32

	transport *Transport
	terms     map[uint32]*Term
	receivers []*Receiver
	high      position.Position
	highValid bool
	last      FrameID
	counters  streamCounters
}

// Transport returns the owning transport.
func (s *Stream) Transport() *Transport {
	return s.transport
}

// High returns the highest data position seen and whether it is valid.
func (s *Stream) High() (position.Position, bool) {
	return s.high, s.highValid
}

// Term returns the term with the given id, or nil.
func (s *Stream) Term(id uint32) *Term {
	return s.terms[id]
}

// Terms returns the stream's terms ordered by term id.
func (s *Stream) Terms() []*Term {
	out := make([]*Term, 0, len(s.terms))
	for _, t := range s.terms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Receivers returns the receivers in the order they were first seen.
func (s *Stream) Receivers() []*Receiver {
	return s.receivers
}

// LastFrame returns the tail of the stream-wide frame chain.
func (s *Stream) LastFrame() FrameID {
	return s.last
}

func (s *Stream) getOrCreateTerm(id uint32) (*Term, bool) {
	t, ok := s.terms[id]
	if ok {
		return t, false
	}
	t = &Term{
		ID:        id,
		stream:    s,
		fragments: make(map[uint32]*Fragment),
		messages:  make(map[uint32]MessageID),
	}
	s.terms[id] = t
	return t, true
}

func (s *Stream) findReceiver(addr string, port uint16) *Receiver {
	for _, r := range s.receivers {
		if r.Addr == addr && r.Port == port {
			return r
		}
	}
	return nil
}

// slowestReceiver returns the receiver with the lowest completed position.
func (s *Stream) slowestReceiver() *Receiver {
	var slowest *Receiver
	for _, r := range s.receivers {
		if slowest == nil || position.Compare(r.Completed, slowest.Completed) < 0 {
			slowest = r
		}
	}
	return slowest
}

func (s *Stream) appendFrame(idx *FrameIndex, rec *FrameRecord) {
	idx.link(&s.last, rec, func(r *FrameRecord) *Links { return &r.Stream })
	s.transport.appendFrame(idx, rec)
}

// Term is one rotating term of a stream.
type Term struct {
	ID uint32

	stream    *Stream
	fragments map[uint32]*Fragment
	naks      []NakID
	orphans   []messageFragment
	messages  map[uint32]MessageID
	msgOrder  []uint32 // sorted keys of messages
	last      FrameID

	// Set once a DATA/PAD frame has been analyzed in this term.
	dataSeen bool
}

// Stream returns the owning stream.
func (t *Term) Stream() *Stream {
	return t.stream
}

// Fragment returns the fragment at the given term offset, or nil.
func (t *Term) Fragment(termOffset uint32) *Fragment {
	return t.fragments[termOffset]
}

// Fragments returns the term's fragments ordered by term offset.
func (t *Term) Fragments() []*Fragment {
	out := make([]*Fragment, 0, len(t.fragments))
	for _, f := range t.fragments {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TermOffset < out[j].TermOffset })
	return out
}

// Naks returns the NAKs raised in this term, in arrival order.
func (t *Term) Naks() []NakID {
	return t.naks
}

// OrphanCount returns how many fragments are waiting for an owning message.
func (t *Term) OrphanCount() int {
	return len(t.orphans)
}

// Messages returns the term's messages ordered by first fragment offset.
func (t *Term) Messages() []MessageID {
	out := make([]MessageID, 0, len(t.msgOrder))
	for _, off := range t.msgOrder {
		out = append(out, t.messages[off])
	}
	return out
}

// LastFrame returns the tail of the term-wide frame chain.
func (t *Term) LastFrame() FrameID {
	return t.last
}

func (t *Term) getOrCreateFragment(termOffset, length, dataLength uint32) *Fragment {
	f, ok := t.fragments[termOffset]
	if !ok {
		f = &Fragment{
			TermOffset: termOffset,
			Length:     length,
			DataLength: dataLength,
			term:       t,
		}
		t.fragments[termOffset] = f
	} else if f.Length == 0 && length > 0 {
		// Opened by a heartbeat; the slot's size is the first data frame's.
		f.Length, f.DataLength = length, dataLength
	}
	return f
}

func (t *Term) appendFrame(idx *FrameIndex, rec *FrameRecord) {
	idx.link(&t.last, rec, func(r *FrameRecord) *Links { return &r.Term })
	t.stream.appendFrame(idx, rec)
}

// Fragment is every frame observed carrying one (term, offset) slot.
type Fragment struct {
	TermOffset uint32
	Length     uint32
	DataLength uint32

	First     FrameID
	Last      FrameID
	FirstData FrameID
	Frames    []FrameID

	term *Term
}

// Term returns the owning term.
func (f *Fragment) Term() *Term {
	return f.term
}

func (f *Fragment) appendFrame(idx *FrameIndex, rec *FrameRecord, length uint32) {
	if f.First == 0 {
		f.First = rec.ID
	}
	if f.FirstData == 0 && length > 0 && rec.Flags&FrameKeepalive == 0 {
		f.FirstData = rec.ID
	}
	f.Frames = append(f.Frames, rec.ID)
	idx.link(&f.Last, rec, func(r *FrameRecord) *Links { return &r.Fragment })
	f.term.appendFrame(idx, rec)
}
