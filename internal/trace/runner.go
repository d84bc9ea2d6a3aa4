package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"aeron-analyzer/internal/aeron"
	"aeron-analyzer/internal/config"
	"aeron-analyzer/internal/session"
	"aeron-analyzer/internal/stats"
	"aeron-analyzer/pkg/types"
)

// Runner drives one analysis run: datagrams are decoded into Aeron frames
// and folded into a session.Manager in capture order.
type Runner struct {
	manager   *session.Manager
	collector *stats.Collector
}

// NewRunner creates a runner with a fresh analysis state. collector may be nil.
func NewRunner(cfg config.AnalysisConfig, collector *stats.Collector) *Runner {
	return &Runner{
		manager:   session.NewManager(cfg),
		collector: collector,
	}
}

// Manager returns the analysis state built so far.
func (r *Runner) Manager() *session.Manager {
	return r.manager
}

// Run processes datagrams in order. It stops when ctx is cancelled or when
// the engine reports session.ErrReassemblyInvariant. Undecodable frames are
// logged and skipped.
func (r *Runner) Run(ctx context.Context, datagrams []types.RawDatagram) error {
	frames := 0
	for _, dg := range datagrams {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("analysis interrupted at record %d: %w", dg.RecordID, err)
		}
		n, err := r.processDatagram(dg)
		frames += n
		if err != nil {
			return err
		}
	}

	summaries := r.manager.StreamSummaries()
	if r.collector != nil {
		var overflows uint64
		for _, s := range summaries {
			overflows += s.OverflowFrames
		}
		r.collector.RecordOverflows(overflows)
		r.collector.SetStreams(summaries)
		// A message is completed by whichever fragment arrives last, which
		// is not always the frame carrying its back-reference.
		for _, msg := range r.manager.Messages() {
			if msg.Complete {
				r.collector.RecordMessage(len(msg.Data))
			}
		}
	}

	log.WithFields(log.Fields{
		"datagrams": len(datagrams),
		"frames":    frames,
		"streams":   len(summaries),
		"messages":  len(r.manager.Messages()),
	}).Info("Analysis complete")
	return nil
}

func (r *Runner) processDatagram(dg types.RawDatagram) (int, error) {
	start := time.Now()
	if r.collector != nil {
		r.collector.RecordDatagram()
		defer func() { r.collector.RecordProcessingTime(time.Since(start)) }()
	}

	headers, decodeErr := aeron.Decode(dg.Data)
	if decodeErr != nil {
		log.WithError(decodeErr).WithFields(log.Fields{
			"record":  dg.RecordID,
			"decoded": len(headers),
		}).Warn("Failed to decode Aeron datagram, skipping remainder")
		if r.collector != nil {
			r.collector.RecordDecodeError()
		}
	}

	processed := 0
	for _, h := range headers {
		f, ok := ToFrame(dg, h)
		if !ok {
			log.WithFields(log.Fields{
				"record": dg.RecordID,
				"offset": h.Offset,
				"type":   aeron.TypeName(h.Type),
			}).Debug("Skipping unsupported frame type")
			if r.collector != nil {
				r.collector.RecordSkipped()
			}
			continue
		}

		rec, err := r.manager.Process(f)
		if err != nil {
			if errors.Is(err, session.ErrReassemblyInvariant) {
				log.WithError(err).WithField("record", dg.RecordID).Error("Analysis state corrupted, aborting run")
			}
			return processed, fmt.Errorf("failed to process frame %d@%d: %w", f.RecordID, f.ByteOffset, err)
		}
		processed++
		r.observe(rec, h, f)
	}
	return processed, nil
}

func (r *Runner) observe(rec *session.FrameRecord, h aeron.Header, f session.Frame) {
	c := r.collector
	if c == nil {
		return
	}
	wire := int(h.FrameLength)
	if f.Type == session.FramePad || h.IsHeartbeat() {
		wire = aeron.DataHeaderLength
	}
	c.RecordFrame(f.Type.String(), wire)

	for _, name := range flagNames(rec.Flags.String()) {
		c.RecordFlag(name)
	}
	if rec.Analysis != nil {
		for _, name := range flagNames(rec.Analysis.Flags.String()) {
			c.RecordFlag("analysis." + name)
		}
	}
	if rec.NakState != nil {
		c.RecordNak(f.NakLength)
	}
	if len(rec.Recovered) > 0 {
		c.RecordRecovery(len(rec.Recovered))
	}
}

func flagNames(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// ToFrame maps a decoded Aeron header onto the engine's frame input. It
// returns false for frame types the engine does not consume.
func ToFrame(dg types.RawDatagram, h aeron.Header) (session.Frame, bool) {
	f := session.Frame{
		RecordID:       dg.RecordID,
		ByteOffset:     uint32(h.Offset),
		Conversation:   dg.Conversation,
		Flags:          h.Flags,
		SessionID:      h.SessionID,
		StreamID:       h.StreamID,
		TermID:         h.TermID,
		TermOffset:     h.TermOffset,
		Length:         h.FrameLength,
		NakTermOffset:  h.NakTermOffset,
		NakLength:      h.NakLength,
		ReceiverWindow: h.ReceiverWindow,
		SrcPort:        dg.SrcPort,
	}
	if dg.SrcIP != nil {
		f.SrcAddr = dg.SrcIP.String()
	}

	switch h.Type {
	case aeron.TypeData:
		f.Type = session.FrameData
		f.Length = h.TermBytes()
		f.DataLength = uint32(len(h.Payload))
		f.Payload = h.Payload
	case aeron.TypePad:
		f.Type = session.FramePad
		f.Length = h.TermBytes()
	case aeron.TypeNak:
		f.Type = session.FrameNak
	case aeron.TypeStatus:
		f.Type = session.FrameStatus
	case aeron.TypeSetup:
		f.Type = session.FrameSetup
		f.TermLength = h.TermLength
		f.MTU = h.MTU
	case aeron.TypeError:
		f.Type = session.FrameError
	case aeron.TypeRTT:
		f.Type = session.FrameRTT
	case aeron.TypeExtension:
		f.Type = session.FrameExtension
	default:
		return session.Frame{}, false
	}
	return f, true
}
