package prom

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"aeron-analyzer/pkg/types"
)

var streamLabels = []string{"conversation", "session_id", "stream_id"}

// StreamCollector exposes per-stream analysis results as Prometheus metrics.
type StreamCollector struct {
	streams    []types.StreamSummary
	streamsMux sync.RWMutex

	streamCount     *prometheus.Desc
	frames          *prometheus.Desc
	dataBytes       *prometheus.Desc
	retransmissions *prometheus.Desc
	keepalives      *prometheus.Desc
	outOfOrder      *prometheus.Desc
	gaps            *prometheus.Desc
	windowFull      *prometheus.Desc
	statusMessages  *prometheus.Desc
	naks            *prometheus.Desc
	unrecoveredNak  *prometheus.Desc
	messages        *prometheus.Desc
	overflows       *prometheus.Desc
	outstanding     *prometheus.Desc
	receivers       *prometheus.Desc
	termLength      *prometheus.Desc
}

func streamDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(name, help, streamLabels, nil)
}

// NewStreamCollector creates a collector with no streams.
func NewStreamCollector() *StreamCollector {
	return &StreamCollector{
		streamCount: prometheus.NewDesc(
			"aeron_stream_count", "Number of streams seen in the trace", nil, nil,
		),
		frames:          streamDesc("aeron_stream_frames_total", "Frames processed per stream"),
		dataBytes:       streamDesc("aeron_stream_data_bytes_total", "DATA payload bytes per stream"),
		retransmissions: streamDesc("aeron_stream_retransmissions_total", "Retransmitted DATA frames per stream"),
		keepalives:      streamDesc("aeron_stream_keepalives_total", "Keepalive DATA frames per stream"),
		outOfOrder:      streamDesc("aeron_stream_out_of_order_total", "Out-of-order DATA and SM frames per stream"),
		gaps:            streamDesc("aeron_stream_gaps_total", "DATA frames leaving a gap behind the high-water mark"),
		windowFull:      streamDesc("aeron_stream_window_full_total", "Frames observed with the receiver window exhausted"),
		statusMessages:  streamDesc("aeron_stream_status_messages_total", "Status messages per stream"),
		naks:            streamDesc("aeron_stream_naks_total", "NAKs raised per stream"),
		unrecoveredNak:  streamDesc("aeron_stream_unrecovered_nak_bytes", "NAK bytes never retransmitted"),
		messages:        streamDesc("aeron_stream_messages_reassembled_total", "Fragmented messages reassembled per stream"),
		overflows:       streamDesc("aeron_stream_position_overflows_total", "Frames whose position arithmetic overflowed"),
		outstanding:     streamDesc("aeron_stream_outstanding_bytes", "Bytes sent but not yet consumed by the slowest receiver"),
		receivers:       streamDesc("aeron_stream_receivers", "Receivers that sent status messages"),
		termLength:      streamDesc("aeron_stream_term_length_bytes", "Term length announced by SETUP"),
	}
}

// Update replaces the exposed streams.
func (c *StreamCollector) Update(streams []types.StreamSummary) {
	c.streamsMux.Lock()
	defer c.streamsMux.Unlock()
	c.streams = append([]types.StreamSummary(nil), streams...)
}

func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.streamCount
	ch <- c.frames
	ch <- c.dataBytes
	ch <- c.retransmissions
	ch <- c.keepalives
	ch <- c.outOfOrder
	ch <- c.gaps
	ch <- c.windowFull
	ch <- c.statusMessages
	ch <- c.naks
	ch <- c.unrecoveredNak
	ch <- c.messages
	ch <- c.overflows
	ch <- c.outstanding
	ch <- c.receivers
	ch <- c.termLength
}

func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	c.streamsMux.RLock()
	defer c.streamsMux.RUnlock()

	ch <- prometheus.MustNewConstMetric(c.streamCount, prometheus.GaugeValue, float64(len(c.streams)))

	for _, s := range c.streams {
		labels := []string{s.Conversation, fmt.Sprintf("%d", s.SessionID), fmt.Sprintf("%d", s.StreamID)}

		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Frames), labels...)
		ch <- prometheus.MustNewConstMetric(c.dataBytes, prometheus.CounterValue, float64(s.DataBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.retransmissions, prometheus.CounterValue, float64(s.Retransmissions), labels...)
		ch <- prometheus.MustNewConstMetric(c.keepalives, prometheus.CounterValue, float64(s.Keepalives), labels...)
		ch <- prometheus.MustNewConstMetric(c.outOfOrder, prometheus.CounterValue, float64(s.OutOfOrder), labels...)
		ch <- prometheus.MustNewConstMetric(c.gaps, prometheus.CounterValue, float64(s.Gaps), labels...)
		ch <- prometheus.MustNewConstMetric(c.windowFull, prometheus.CounterValue, float64(s.WindowFull), labels...)
		ch <- prometheus.MustNewConstMetric(c.statusMessages, prometheus.CounterValue, float64(s.StatusMessages), labels...)
		ch <- prometheus.MustNewConstMetric(c.naks, prometheus.CounterValue, float64(s.Naks), labels...)
		ch <- prometheus.MustNewConstMetric(c.unrecoveredNak, prometheus.GaugeValue, float64(s.UnrecoveredNakBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(s.MessagesReassembled), labels...)
		ch <- prometheus.MustNewConstMetric(c.overflows, prometheus.CounterValue, float64(s.OverflowFrames), labels...)
		ch <- prometheus.MustNewConstMetric(c.outstanding, prometheus.GaugeValue, float64(s.OutstandingBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.receivers, prometheus.GaugeValue, float64(s.Receivers), labels...)
		if s.TermLength > 0 {
			ch <- prometheus.MustNewConstMetric(c.termLength, prometheus.GaugeValue, float64(s.TermLength), labels...)
		}
	}
}
