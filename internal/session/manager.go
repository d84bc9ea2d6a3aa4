package session

import (
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"aeron-analyzer/internal/config"
	"aeron-analyzer/internal/position"
	"aeron-analyzer/pkg/types"
)

// Manager holds the analysis state of one run: the frame index, every
// transport seen, and the NAK and message arenas. It is not safe for
// concurrent use; callers shard by conversation or serialize calls.
type Manager struct {
	cfg config.AnalysisConfig

	index      *FrameIndex
	transports map[TransportKey]*Transport
	naks       []*Nak
	messages   []*Message
}

// NewManager creates an empty analysis state.
func NewManager(cfg config.AnalysisConfig) *Manager {
	return &Manager{
		cfg:        cfg,
		index:      NewFrameIndex(),
		transports: make(map[TransportKey]*Transport),
		naks:       []*Nak{nil},
		messages:   []*Message{nil},
	}
}

// Process folds one frame into the analysis state and returns its record.
// A frame whose identity was already processed is returned unchanged.
// The only error returned is ErrReassemblyInvariant, which is fatal.
func (m *Manager) Process(f Frame) (*FrameRecord, error) {
	if rec := m.index.Lookup(f.RecordID, f.ByteOffset); rec != nil {
		return rec, nil
	}
	rec, _ := m.index.GetOrCreate(f.RecordID, f.ByteOffset)
	rec.Type = f.Type

	transport := m.getOrCreateTransport(TransportKey{Conversation: f.Conversation, SessionID: f.SessionID})

	switch f.Type {
	case FrameExtension:
		transport.appendFrame(m.index, rec)
		return rec, nil

	case FrameError, FrameRTT:
		stream := transport.getOrCreateStream(f.StreamID)
		stream.appendFrame(m.index, rec)
		stream.counters.count(rec)
		return rec, nil

	case FrameSetup:
		stream := transport.getOrCreateStream(f.StreamID)
		stream.TermLength = f.TermLength
		stream.MTU = f.MTU
		term, _ := stream.getOrCreateTerm(f.TermID)
		term.appendFrame(m.index, rec)
		stream.counters.count(rec)
		log.WithFields(log.Fields{
			"session_id":  f.SessionID,
			"stream_id":   f.StreamID,
			"term_length": f.TermLength,
			"mtu":         f.MTU,
		}).Debug("Stream setup")
		return rec, nil

	case FrameNak:
		stream := transport.getOrCreateStream(f.StreamID)
		term, _ := stream.getOrCreateTerm(f.TermID)
		m.raiseNak(term, rec, f)
		term.appendFrame(m.index, rec)
		stream.counters.count(rec)
		return rec, nil

	case FrameStatus:
		stream := transport.getOrCreateStream(f.StreamID)
		term, _ := stream.getOrCreateTerm(f.TermID)
		m.analyzeStatus(stream, rec, f)
		term.appendFrame(m.index, rec)
		stream.counters.count(rec)
		return rec, nil

	case FrameData, FramePad:
		return rec, m.processData(transport, rec, f)

	default:
		transport.appendFrame(m.index, rec)
		return rec, nil
	}
}

func (m *Manager) processData(transport *Transport, rec *FrameRecord, f Frame) error {
	stream := transport.getOrCreateStream(f.StreamID)
	term, _ := stream.getOrCreateTerm(f.TermID)

	if err := m.analyzeData(stream, !term.dataSeen, rec, f); err != nil {
		if !errors.Is(err, position.ErrOverflow) {
			return err
		}
		log.WithFields(log.Fields{
			"record":      f.RecordID,
			"offset":      f.ByteOffset,
			"term_id":     f.TermID,
			"term_offset": f.TermOffset,
			"length":      f.Length,
		}).Debug("Position overflow, skipping stream analysis")
		stream.appendFrame(m.index, rec)
		stream.counters.overflows++
		stream.counters.count(rec)
		return nil
	}
	term.dataSeen = true

	if m.cfg.Sequence {
		m.correlateNaks(term, rec, f.TermOffset, f.Length)
	}

	term.getOrCreateFragment(f.TermOffset, f.Length, f.DataLength).appendFrame(m.index, rec, f.Length)
	stream.counters.dataFrames++
	stream.counters.dataBytes += uint64(f.DataLength)
	stream.counters.count(rec)

	if m.cfg.Reassembly {
		if err := m.reassemble(term, rec, f); err != nil {
			return fmt.Errorf("failed to reassemble frame %d@%d: %w", f.RecordID, f.ByteOffset, err)
		}
	}
	return nil
}

func (m *Manager) getOrCreateTransport(key TransportKey) *Transport {
	t, ok := m.transports[key]
	if !ok {
		t = newTransport(key)
		m.transports[key] = t
		log.WithFields(log.Fields{
			"conversation": key.Conversation,
			"session_id":   key.SessionID,
		}).Debug("New transport")
	}
	return t
}

// Frame returns the record for a frame identity, or nil if never processed.
func (m *Manager) Frame(recordID, byteOffset uint32) *FrameRecord {
	return m.index.Lookup(recordID, byteOffset)
}

// FrameByID returns the record with the given id, or nil.
func (m *Manager) FrameByID(id FrameID) *FrameRecord {
	return m.index.Get(id)
}

// Frames returns every record in processing order.
func (m *Manager) Frames() []*FrameRecord {
	return m.index.All()
}

// Message returns the message with the given id, or nil.
func (m *Manager) Message(id MessageID) *Message {
	if id <= 0 || int(id) >= len(m.messages) {
		return nil
	}
	return m.messages[id]
}

// Messages returns every message in creation order.
func (m *Manager) Messages() []*Message {
	return m.messages[1:]
}

// Nak returns the NAK with the given id, or nil.
func (m *Manager) Nak(id NakID) *Nak {
	if id <= 0 || int(id) >= len(m.naks) {
		return nil
	}
	return m.naks[id]
}

// Naks returns every NAK in arrival order.
func (m *Manager) Naks() []*Nak {
	return m.naks[1:]
}

// NakState returns the recovery state of a NAK.
func (m *Manager) NakState(id NakID) *NakState {
	nak := m.Nak(id)
	if nak == nil {
		return nil
	}
	return m.index.Get(nak.Frame).NakState
}

// Transport returns the transport for a conversation and session id, or nil.
func (m *Manager) Transport(conversation string, sessionID uint32) *Transport {
	return m.transports[TransportKey{Conversation: conversation, SessionID: sessionID}]
}

// Transports returns every transport ordered by conversation, then session id.
func (m *Manager) Transports() []*Transport {
	out := make([]*Transport, 0, len(m.transports))
	for _, t := range m.transports {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Conversation != out[j].Key.Conversation {
			return out[i].Key.Conversation < out[j].Key.Conversation
		}
		return out[i].Key.SessionID < out[j].Key.SessionID
	})
	return out
}

// StreamSummaries returns per-stream aggregates over the run so far.
func (m *Manager) StreamSummaries() []types.StreamSummary {
	var out []types.StreamSummary
	for _, t := range m.Transports() {
		for _, s := range t.Streams() {
			c := s.counters
			sum := types.StreamSummary{
				Conversation:        t.Key.Conversation,
				SessionID:           t.Key.SessionID,
				StreamID:            s.ID,
				TermLength:          s.TermLength,
				MTU:                 s.MTU,
				Frames:              c.frames,
				DataFrames:          c.dataFrames,
				DataBytes:           c.dataBytes,
				Retransmissions:     c.retransmissions,
				Keepalives:          c.keepalives,
				OutOfOrder:          c.outOfOrder,
				Gaps:                c.gaps,
				WindowFull:          c.windowFull,
				StatusMessages:      c.statusMessages,
				Naks:                c.naks,
				MessagesReassembled: c.messages,
				OverflowFrames:      c.overflows,
				OutstandingBytes:    c.outstanding,
				Receivers:           len(s.receivers),
			}
			if s.highValid {
				sum.High = s.high.String()
			}
			for _, term := range s.Terms() {
				for _, id := range term.naks {
					sum.UnrecoveredNakBytes += uint64(m.NakState(id).Unrecovered)
				}
			}
			out = append(out, sum)
		}
	}
	return out
}
