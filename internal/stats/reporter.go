package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reporter outputs statistics to console and/or file.
type Reporter struct {
	collector   *Collector
	intervalSec int
	exportFile  string
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, intervalSec int, exportFile string) *Reporter {
	return &Reporter{
		collector:   collector,
		intervalSec: intervalSec,
		exportFile:  exportFile,
	}
}

// StartPeriodicReport begins periodic progress reporting in a goroutine.
func (r *Reporter) StartPeriodicReport(ctx context.Context) {
	if r.intervalSec <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := r.collector.Snapshot()
				log.WithFields(log.Fields{
					"datagrams": snap.Datagrams,
					"frames":    snap.TotalFrames(),
					"messages":  snap.MessagesReassembled,
				}).Info("Analysis progress")
			}
		}
	}()
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

// ExportJSON exports statistics to a JSON file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	data, err := json.MarshalIndent(r.exportData(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}

func (r *Reporter) exportData() map[string]interface{} {
	snap := r.collector.Snapshot()
	min, avg, max, p99 := snap.ProcessingTimeStats()

	export := map[string]interface{}{
		"start_time":    snap.StartTime.Format(time.RFC3339),
		"end_time":      snap.EndTime.Format(time.RFC3339),
		"duration_sec":  snap.Duration().Seconds(),
		"datagrams":     snap.Datagrams,
		"decode_errors": snap.DecodeErrors,
		"skipped":       snap.SkippedFrames,
		"overflows":     snap.OverflowFrames,
		"frames":        map[string]interface{}{},
		"flags":         snap.FlagCounts,
		"naks": map[string]interface{}{
			"raised":     snap.NaksRaised,
			"bytes":      snap.NakBytes,
			"recoveries": snap.NaksRecovered,
		},
		"messages": map[string]interface{}{
			"reassembled": snap.MessagesReassembled,
			"bytes":       snap.MessageBytes,
		},
		"processing_times_us": map[string]interface{}{
			"min": float64(min) / float64(time.Microsecond),
			"avg": float64(avg) / float64(time.Microsecond),
			"max": float64(max) / float64(time.Microsecond),
			"p99": float64(p99) / float64(time.Microsecond),
		},
		"streams": snap.Streams,
	}

	frames := export["frames"].(map[string]interface{})
	for name, s := range snap.FrameStats {
		frames[name] = map[string]interface{}{
			"frames": s.Frames,
			"bytes":  s.Bytes,
		}
	}
	return export
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	elapsed := snap.Duration()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== Aeron Analyzer Statistics (elapsed: %s) ===\n", elapsed.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Datagrams: %d  |  Decode errors: %d  |  Skipped frames: %d  |  Overflows: %d\n",
		snap.Datagrams, snap.DecodeErrors, snap.SkippedFrames, snap.OverflowFrames))

	sb.WriteString("Frames:\n")
	typeNames := make([]string, 0, len(snap.FrameStats))
	for name := range snap.FrameStats {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)
	for _, name := range typeNames {
		s := snap.FrameStats[name]
		sb.WriteString(fmt.Sprintf("  %-8s frames=%-8d bytes=%-10d\n", name+":", s.Frames, s.Bytes))
	}

	if len(snap.FlagCounts) > 0 {
		sb.WriteString("Flags:\n")
		flagNames := make([]string, 0, len(snap.FlagCounts))
		for name := range snap.FlagCounts {
			flagNames = append(flagNames, name)
		}
		sort.Strings(flagNames)
		for _, name := range flagNames {
			sb.WriteString(fmt.Sprintf("  %-16s %d\n", name+":", snap.FlagCounts[name]))
		}
	}

	sb.WriteString("NAKs:\n")
	sb.WriteString(fmt.Sprintf("  Raised: %d  |  Bytes: %d  |  Recoveries: %d\n",
		snap.NaksRaised, snap.NakBytes, snap.NaksRecovered))
	sb.WriteString("Messages:\n")
	sb.WriteString(fmt.Sprintf("  Reassembled: %d  |  Bytes: %d\n", snap.MessagesReassembled, snap.MessageBytes))

	if len(snap.Streams) > 0 {
		sb.WriteString("Streams:\n")
		for _, s := range snap.Streams {
			sb.WriteString(fmt.Sprintf("  %s session=%d stream=%d high=%s frames=%d rx=%d keepalive=%d ooo=%d gaps=%d window_full=%d naks=%d unrecovered=%d messages=%d\n",
				s.Conversation, s.SessionID, s.StreamID, s.High, s.Frames, s.Retransmissions, s.Keepalives,
				s.OutOfOrder, s.Gaps, s.WindowFull, s.Naks, s.UnrecoveredNakBytes, s.MessagesReassembled))
		}
	}

	if len(snap.ProcessingTimes) > 0 {
		min, avg, max, p99 := snap.ProcessingTimeStats()
		sb.WriteString("Processing Times:\n")
		sb.WriteString(fmt.Sprintf("  Min: %s  |  Avg: %s  |  Max: %s  |  P99: %s\n",
			min, avg, max, p99))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
