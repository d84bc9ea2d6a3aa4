package stats

import (
	"sort"
	"sync"
	"time"

	"aeron-analyzer/pkg/types"
)

// FrameTypeStats holds per-frame-type statistics.
type FrameTypeStats struct {
	Frames uint64
	Bytes  uint64
}

// Collector aggregates statistics of one analysis run.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	FrameStats map[string]*FrameTypeStats
	FlagCounts map[string]uint64

	Datagrams      uint64
	DecodeErrors   uint64
	SkippedFrames  uint64
	OverflowFrames uint64

	NaksRaised    uint64
	NakBytes      uint64
	NaksRecovered uint64

	MessagesReassembled uint64
	MessageBytes        uint64

	ProcessingTimes []time.Duration

	Streams []types.StreamSummary

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime:  time.Now(),
		FrameStats: make(map[string]*FrameTypeStats),
		FlagCounts: make(map[string]uint64),
	}
}

func (c *Collector) getOrCreate(frameType string) *FrameTypeStats {
	if _, ok := c.FrameStats[frameType]; !ok {
		c.FrameStats[frameType] = &FrameTypeStats{}
	}
	return c.FrameStats[frameType]
}

// RecordDatagram records one datagram handed to the decoder.
func (c *Collector) RecordDatagram() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Datagrams++
}

// RecordDecodeError records a datagram whose remaining frames were abandoned.
func (c *Collector) RecordDecodeError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DecodeErrors++
}

// RecordSkipped records a decoded frame the engine does not consume.
func (c *Collector) RecordSkipped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SkippedFrames++
}

// RecordFrame records one processed frame of the given type and wire size.
func (c *Collector) RecordFrame(frameType string, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.getOrCreate(frameType)
	s.Frames++
	s.Bytes += uint64(bytes)
}

// RecordFlag records a frame carrying the named flag.
func (c *Collector) RecordFlag(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FlagCounts[name]++
}

// RecordOverflows records n frames whose position analysis overflowed.
func (c *Collector) RecordOverflows(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OverflowFrames += n
}

// RecordNak records a NAK requesting length bytes.
func (c *Collector) RecordNak(length uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NaksRaised++
	c.NakBytes += uint64(length)
}

// RecordRecovery records a data frame credited toward n NAKs.
func (c *Collector) RecordRecovery(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NaksRecovered += uint64(n)
}

// RecordMessage records a reassembled message of length bytes.
func (c *Collector) RecordMessage(length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MessagesReassembled++
	c.MessageBytes += uint64(length)
}

// RecordProcessingTime records how long one datagram took to analyze.
func (c *Collector) RecordProcessingTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ProcessingTimes = append(c.ProcessingTimes, d)
}

// SetStreams replaces the per-stream summaries.
func (c *Collector) SetStreams(streams []types.StreamSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Streams = append([]types.StreamSummary(nil), streams...)
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalFrames returns the number of frames processed.
func (c *Collector) TotalFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, s := range c.FrameStats {
		total += s.Frames
	}
	return total
}

// ProcessingTimeStats returns min, avg, max, and p99 per-datagram processing times.
func (c *Collector) ProcessingTimeStats() (min, avg, max, p99 time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ProcessingTimes) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]time.Duration, len(c.ProcessingTimes))
	copy(sorted, c.ProcessingTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg = total / time.Duration(len(sorted))

	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}
	p99 = sorted[p99Idx]

	return
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:           c.StartTime,
		EndTime:             c.EndTime,
		FrameStats:          make(map[string]*FrameTypeStats, len(c.FrameStats)),
		FlagCounts:          make(map[string]uint64, len(c.FlagCounts)),
		Datagrams:           c.Datagrams,
		DecodeErrors:        c.DecodeErrors,
		SkippedFrames:       c.SkippedFrames,
		OverflowFrames:      c.OverflowFrames,
		NaksRaised:          c.NaksRaised,
		NakBytes:            c.NakBytes,
		NaksRecovered:       c.NaksRecovered,
		MessagesReassembled: c.MessagesReassembled,
		MessageBytes:        c.MessageBytes,
		ProcessingTimes:     make([]time.Duration, len(c.ProcessingTimes)),
		Streams:             append([]types.StreamSummary(nil), c.Streams...),
	}
	copy(snap.ProcessingTimes, c.ProcessingTimes)

	for k, v := range c.FrameStats {
		snap.FrameStats[k] = &FrameTypeStats{Frames: v.Frames, Bytes: v.Bytes}
	}
	for k, v := range c.FlagCounts {
		snap.FlagCounts[k] = v
	}

	return snap
}
