package session

import (
	"strings"

	"aeron-analyzer/internal/position"
)

// AnalysisFlags classify a frame relative to its stream's state.
type AnalysisFlags uint16

const (
	AnalysisWindowFull AnalysisFlags = 1 << iota
	AnalysisIdleRx
	AnalysisPacingRx
	AnalysisOOO
	AnalysisOOOGap
	AnalysisKeepalive
	AnalysisWindowResize
	AnalysisOOOSM
	AnalysisKeepaliveSM
	AnalysisRx
	AnalysisTermIDChange
)

var analysisFlagNames = []struct {
	flag AnalysisFlags
	name string
}{
	{AnalysisWindowFull, "WINDOW_FULL"},
	{AnalysisIdleRx, "IDLE_RX"},
	{AnalysisPacingRx, "PACING_RX"},
	{AnalysisOOO, "OOO"},
	{AnalysisOOOGap, "OOO_GAP"},
	{AnalysisKeepalive, "KEEPALIVE"},
	{AnalysisWindowResize, "WINDOW_RESIZE"},
	{AnalysisOOOSM, "OOO_SM"},
	{AnalysisKeepaliveSM, "KEEPALIVE_SM"},
	{AnalysisRx, "RX"},
	{AnalysisTermIDChange, "TERM_ID_CHANGE"},
}

func (f AnalysisFlags) String() string {
	var parts []string
	for _, fn := range analysisFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// StreamAnalysis is a snapshot of stream state taken when a frame was processed.
type StreamAnalysis struct {
	Flags            AnalysisFlags
	High             position.Position
	Completed        position.Position
	CompletedValid   bool
	Window           uint32
	OutstandingBytes uint32
}

type streamCounters struct {
	frames          uint64
	dataFrames      uint64
	dataBytes       uint64
	retransmissions uint64
	keepalives      uint64
	outOfOrder      uint64
	gaps            uint64
	windowFull      uint64
	naks            uint64
	messages        uint64
	overflows       uint64
	statusMessages  uint64
	outstanding     uint32
}

func (c *streamCounters) count(rec *FrameRecord) {
	c.frames++
	if rec.Flags&FrameRetransmission != 0 {
		c.retransmissions++
	}
	if rec.Flags&FrameKeepalive != 0 {
		c.keepalives++
	}
	if sa := rec.Analysis; sa != nil {
		if sa.Flags&(AnalysisOOO|AnalysisOOOSM) != 0 {
			c.outOfOrder++
		}
		if sa.Flags&AnalysisOOOGap != 0 {
			c.gaps++
		}
		if sa.Flags&AnalysisWindowFull != 0 {
			c.windowFull++
		}
		c.outstanding = sa.OutstandingBytes
	}
}

// snapshot builds the common part of a StreamAnalysis against rcv.
func (s *Stream) snapshot(rcv *Receiver) *StreamAnalysis {
	sa := &StreamAnalysis{High: s.high}
	if rcv != nil {
		sa.Completed = rcv.Completed
		sa.CompletedValid = true
		sa.Window = rcv.Window
		sa.OutstandingBytes = position.Delta(s.high, rcv.Completed, s.TermLength)
		if sa.OutstandingBytes >= rcv.Window {
			sa.Flags |= AnalysisWindowFull
		}
	}
	return sa
}

// analyzeData advances the stream's high-water mark for a DATA or PAD frame
// and classifies the frame. It fails only on position overflow, in which case
// the stream is left unchanged.
func (m *Manager) analyzeData(stream *Stream, firstInTerm bool, rec *FrameRecord, f Frame) error {
	pos := position.Position{TermID: f.TermID, TermOffset: f.TermOffset}
	dp, err := position.AddLength(pos, f.Length, stream.TermLength)
	if err != nil {
		return err
	}

	pdp, hadHigh := stream.high, stream.highValid
	if hadHigh {
		if position.Compare(dp, stream.high) > 0 {
			stream.high = dp
		}
	} else {
		stream.high = dp
		stream.highValid = true
	}

	if !m.cfg.Stream && !m.cfg.Sequence {
		return nil
	}

	rcv := stream.slowestReceiver()
	sa := stream.snapshot(rcv)
	var frameFlags FrameFlags

	if hadHigh {
		switch position.Compare(dp, pdp) {
		case 0:
			if f.Length == 0 {
				sa.Flags |= AnalysisKeepalive
				frameFlags |= FrameKeepalive
			} else {
				frameFlags |= FrameRetransmission
				if rcv == nil || position.Compare(rcv.Completed, dp) == 0 {
					sa.Flags |= AnalysisIdleRx
				} else {
					sa.Flags |= AnalysisPacingRx
				}
			}
		default:
			if position.Compare(dp, pdp) < 0 {
				sa.Flags |= AnalysisOOO
			}
			expected, err := position.AddLength(pdp, f.Length, stream.TermLength)
			if err == nil {
				switch position.Compare(expected, dp) {
				case 1:
					sa.Flags |= AnalysisRx
					frameFlags |= FrameRetransmission
				case -1:
					sa.Flags |= AnalysisOOOGap
				}
			}
		}
	}
	if firstInTerm && f.TermOffset == 0 {
		sa.Flags |= AnalysisTermIDChange
	}

	if m.cfg.Sequence {
		rec.Flags |= frameFlags
	}
	if m.cfg.Stream {
		rec.Analysis = sa
	}
	return nil
}

// analyzeStatus folds a status message into the sending receiver's state.
func (m *Manager) analyzeStatus(stream *Stream, rec *FrameRecord, f Frame) {
	completed := position.Position{TermID: f.TermID, TermOffset: f.TermOffset}
	stream.counters.statusMessages++

	rcv := stream.findReceiver(f.SrcAddr, f.SrcPort)
	var prev position.Position
	var prevWindow uint32
	seen := rcv != nil
	if seen {
		prev, prevWindow = rcv.Completed, rcv.Window
		if position.Compare(completed, rcv.Completed) > 0 {
			rcv.Completed = completed
		}
	} else {
		rcv = &Receiver{Addr: f.SrcAddr, Port: f.SrcPort, Completed: completed}
		stream.receivers = append(stream.receivers, rcv)
	}
	rcv.Window = f.ReceiverWindow

	if !m.cfg.Stream || !stream.highValid {
		return
	}

	sa := stream.snapshot(rcv)
	if seen {
		switch position.Compare(completed, prev) {
		case 0:
			sa.Flags |= AnalysisKeepaliveSM
		case -1:
			sa.Flags |= AnalysisOOOSM
		}
		if prevWindow != f.ReceiverWindow {
			sa.Flags |= AnalysisWindowResize
		}
	}
	rec.Analysis = sa
}
