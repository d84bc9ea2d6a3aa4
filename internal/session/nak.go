package session

// NakID is the identity of a Nak within one run. Zero means none.
type NakID int

// Nak is a retransmission request raised in a term.
type Nak struct {
	ID         NakID
	Frame      FrameID
	TermID     uint32
	TermOffset uint32
	Length     uint32
}

// Rx is a (term offset, length) range credited toward a NAK.
type Rx struct {
	TermOffset uint32
	Length     uint32
	Frame      FrameID
}

// NakState tracks how much of a NAK has been satisfied.
type NakState struct {
	Nak         NakID
	Unrecovered uint32
	Rx          []Rx
}

func (s *NakState) hasRx(termOffset, length uint32) bool {
	for _, rx := range s.Rx {
		if rx.TermOffset == termOffset && rx.Length == length {
			return true
		}
	}
	return false
}

// raiseNak records a NAK on term and attaches its state to rec.
func (m *Manager) raiseNak(term *Term, rec *FrameRecord, f Frame) *Nak {
	nak := &Nak{
		ID:         NakID(len(m.naks)),
		Frame:      rec.ID,
		TermID:     term.ID,
		TermOffset: f.NakTermOffset,
		Length:     f.NakLength,
	}
	m.naks = append(m.naks, nak)
	term.naks = append(term.naks, nak.ID)
	rec.NakState = &NakState{Nak: nak.ID, Unrecovered: f.NakLength}
	term.stream.counters.naks++
	return nak
}

// correlateNaks credits a data frame toward every earlier NAK in its term
// whose range starts at or before the frame and is at least as long.
// Frames only partially overlapping a NAK are not credited.
func (m *Manager) correlateNaks(term *Term, rec *FrameRecord, termOffset, length uint32) {
	if length == 0 {
		return
	}
	for _, id := range term.naks {
		nak := m.naks[id]
		if nak.Frame >= rec.ID {
			continue
		}
		if nak.TermOffset <= termOffset && nak.Length >= length {
			m.recordRecovery(nak, rec, termOffset, length)
		}
	}
}

func (m *Manager) recordRecovery(nak *Nak, rec *FrameRecord, termOffset, length uint32) {
	state := m.index.Get(nak.Frame).NakState
	if state.Unrecovered < length || state.hasRx(termOffset, length) {
		return
	}
	state.Rx = append(state.Rx, Rx{TermOffset: termOffset, Length: length, Frame: rec.ID})
	state.Unrecovered -= length
	rec.Recovered = append(rec.Recovered, nak.ID)
}
