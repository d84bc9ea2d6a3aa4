package trace

import (
	"fmt"
	"io"
	"text/tabwriter"

	"aeron-analyzer/internal/session"
)

// Dump writes one line per processed frame: identity, flags, the four link
// chains, and the analysis, NAK and message views when present.
func Dump(w io.Writer, m *session.Manager) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORD\tTYPE\tFLAGS\tTRANSPORT\tSTREAM\tTERM\tFRAGMENT\tANALYSIS\tDETAIL")
	for _, rec := range m.Frames() {
		fmt.Fprintf(tw, "%d\t%d@%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.RecordID, rec.ByteOffset, rec.Type, orDash(rec.Flags.String()),
			links(rec.Transport), links(rec.Stream), links(rec.Term), links(rec.Fragment),
			analysis(rec.Analysis), detail(m, rec))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write frame dump: %w", err)
	}
	return nil
}

func links(l session.Links) string {
	if l.Prev == 0 && l.Next == 0 {
		return "-"
	}
	return fmt.Sprintf("%d<>%d", l.Prev, l.Next)
}

func analysis(sa *session.StreamAnalysis) string {
	if sa == nil {
		return "-"
	}
	s := fmt.Sprintf("high=%s", sa.High)
	if sa.CompletedValid {
		s += fmt.Sprintf(" completed=%s window=%d outstanding=%d", sa.Completed, sa.Window, sa.OutstandingBytes)
	}
	if sa.Flags != 0 {
		s += " " + sa.Flags.String()
	}
	return s
}

func detail(m *session.Manager, rec *session.FrameRecord) string {
	s := ""
	if ns := rec.NakState; ns != nil {
		nak := m.Nak(ns.Nak)
		s += fmt.Sprintf("nak=%d/%d+%d unrecovered=%d rx=%d", nak.TermID, nak.TermOffset, nak.Length, ns.Unrecovered, len(ns.Rx))
	}
	if len(rec.Recovered) > 0 {
		s += fmt.Sprintf("recovers=%v", rec.Recovered)
	}
	if msg := m.Message(rec.Message); msg != nil {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("message=%d fragments=%d length=%d", msg.ID, msg.FragmentCount, msg.Length)
	}
	return orDash(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
