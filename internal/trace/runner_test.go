package trace

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeron-analyzer/internal/aeron"
	"aeron-analyzer/internal/config"
	"aeron-analyzer/internal/session"
	"aeron-analyzer/internal/stats"
	"aeron-analyzer/pkg/types"
)

const (
	conv      = "10.0.0.1:40123|10.0.0.2:40123"
	sessionID = 0x55
	streamID  = 1001
)

var allAnalysis = config.AnalysisConfig{Sequence: true, Stream: true, Reassembly: true}

type capture struct {
	t         *testing.T
	datagrams []types.RawDatagram
}

func (c *capture) add(headers ...aeron.Header) uint32 {
	c.t.Helper()
	b, err := aeron.EncodeDatagram(headers...)
	require.NoError(c.t, err)
	return c.addRaw(b)
}

func (c *capture) addRaw(b []byte) uint32 {
	id := uint32(len(c.datagrams) + 1)
	c.datagrams = append(c.datagrams, types.RawDatagram{
		RecordID:     id,
		Data:         b,
		SrcIP:        net.ParseIP("10.0.0.1"),
		DstIP:        net.ParseIP("10.0.0.2"),
		SrcPort:      40123,
		DstPort:      40123,
		Conversation: conv,
	})
	return id
}

func TestRunner_KeepaliveAndRetransmission(t *testing.T) {
	c := &capture{t: t}
	c.add(aeron.SetupFrame(sessionID, streamID, 1, 65536, 1408))
	first := c.add(aeron.DataFrame(sessionID, streamID, 1, 0, aeron.FlagBegin|aeron.FlagEnd, make([]byte, 1376)))
	heartbeat := c.add(aeron.DataFrame(sessionID, streamID, 1, 1408, 0, nil))
	nak := c.add(aeron.NakFrame(sessionID, streamID, 1, 0, 1408))
	replay := c.add(aeron.DataFrame(sessionID, streamID, 1, 0, aeron.FlagBegin|aeron.FlagEnd, make([]byte, 1376)))

	collector := stats.NewCollector()
	r := NewRunner(allAnalysis, collector)
	require.NoError(t, r.Run(context.Background(), c.datagrams))
	m := r.Manager()

	rec := m.Frame(first, 0)
	require.NotNil(t, rec)
	assert.Zero(t, rec.Flags)

	rec = m.Frame(heartbeat, 0)
	require.NotNil(t, rec)
	assert.NotZero(t, rec.Flags&session.FrameKeepalive)

	rec = m.Frame(replay, 0)
	require.NotNil(t, rec)
	assert.NotZero(t, rec.Flags&session.FrameRetransmission)

	nakRec := m.Frame(nak, 0)
	require.NotNil(t, nakRec)
	require.NotNil(t, nakRec.NakState)
	assert.Equal(t, uint32(0), nakRec.NakState.Unrecovered)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(5), snap.Datagrams)
	assert.Equal(t, uint64(3), snap.FrameStats["DATA"].Frames)
	assert.Equal(t, uint64(1), snap.FrameStats["SETUP"].Frames)
	assert.Equal(t, uint64(1), snap.FlagCounts["KEEPALIVE"])
	assert.Equal(t, uint64(1), snap.FlagCounts["RETRANSMISSION"])
	assert.Equal(t, uint64(1), snap.NaksRaised)
	assert.Equal(t, uint64(1), snap.NaksRecovered)
	require.Len(t, snap.Streams, 1)
	assert.Equal(t, uint64(1), snap.Streams[0].Naks)
	assert.Equal(t, uint64(0), snap.Streams[0].UnrecoveredNakBytes)
	assert.Len(t, snap.ProcessingTimes, 5)
}

func TestRunner_ReassemblesAcrossDatagrams(t *testing.T) {
	c := &capture{t: t}
	c.add(aeron.SetupFrame(sessionID, streamID, 7, 65536, 1408))
	c.add(aeron.DataFrame(sessionID, streamID, 7, 128, aeron.FlagEnd, bytes.Repeat([]byte{'c'}, 32)))
	c.add(
		aeron.DataFrame(sessionID, streamID, 7, 0, aeron.FlagBegin, bytes.Repeat([]byte{'a'}, 32)),
		aeron.DataFrame(sessionID, streamID, 7, 64, 0, bytes.Repeat([]byte{'b'}, 32)),
	)

	collector := stats.NewCollector()
	r := NewRunner(allAnalysis, collector)
	require.NoError(t, r.Run(context.Background(), c.datagrams))

	msgs := r.Manager().Messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.True(t, msg.Complete)
	assert.Equal(t, 3, msg.FragmentCount)
	assert.Equal(t, uint32(96), msg.Length)
	assert.Equal(t, uint32(192), msg.NextExpectedTermOffset)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, 32), msg.Data[:32])
	assert.Equal(t, bytes.Repeat([]byte{'c'}, 32), msg.Data[64:])

	// The END fragment arrived first and completed the message last.
	end := r.Manager().Frame(2, 0)
	require.NotNil(t, end)
	assert.Equal(t, msg.ID, end.Message)

	// The second frame of a batched datagram is identified by its offset.
	assert.NotNil(t, r.Manager().Frame(3, 64))
	assert.Equal(t, uint64(1), collector.Snapshot().MessagesReassembled)
	assert.Equal(t, uint64(96), collector.Snapshot().MessageBytes)
}

func TestRunner_DecodeErrorKeepsEarlierFrames(t *testing.T) {
	c := &capture{t: t}
	good, err := aeron.EncodeDatagram(aeron.DataFrame(sessionID, streamID, 1, 0, 0, make([]byte, 32)))
	require.NoError(t, err)
	id := c.addRaw(append(good, 0xde, 0xad))

	collector := stats.NewCollector()
	r := NewRunner(allAnalysis, collector)
	require.NoError(t, r.Run(context.Background(), c.datagrams))

	assert.NotNil(t, r.Manager().Frame(id, 0))
	assert.Equal(t, uint64(1), collector.Snapshot().DecodeErrors)
	assert.Equal(t, uint64(1), collector.TotalFrames())
}

func TestRunner_UnknownFrameTypeSkipped(t *testing.T) {
	c := &capture{t: t}
	raw := make([]byte, 32)
	raw[0] = 32
	raw[6] = 0x42
	c.addRaw(raw)

	collector := stats.NewCollector()
	r := NewRunner(allAnalysis, collector)
	require.NoError(t, r.Run(context.Background(), c.datagrams))

	assert.Empty(t, r.Manager().Frames())
	assert.Equal(t, uint64(1), collector.Snapshot().SkippedFrames)
}

func TestRunner_CancelledContext(t *testing.T) {
	c := &capture{t: t}
	c.add(aeron.SetupFrame(sessionID, streamID, 1, 65536, 1408))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(allAnalysis, nil).Run(ctx, c.datagrams)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_NilCollector(t *testing.T) {
	c := &capture{t: t}
	c.add(aeron.SetupFrame(sessionID, streamID, 1, 65536, 1408))
	c.add(aeron.DataFrame(sessionID, streamID, 1, 0, 0, make([]byte, 64)))

	r := NewRunner(allAnalysis, nil)
	require.NoError(t, r.Run(context.Background(), c.datagrams))
	assert.Len(t, r.Manager().Frames(), 2)
}

func TestToFrame(t *testing.T) {
	dg := types.RawDatagram{RecordID: 9, Conversation: conv, SrcIP: net.ParseIP("10.0.0.2"), SrcPort: 5000}

	t.Run("data", func(t *testing.T) {
		h := aeron.Header{Type: aeron.TypeData, Offset: 64, FrameLength: 32 + 10, Flags: aeron.FlagBegin,
			SessionID: 1, StreamID: 2, TermID: 3, TermOffset: 4096, Payload: make([]byte, 10)}
		f, ok := ToFrame(dg, h)
		require.True(t, ok)
		assert.Equal(t, session.FrameData, f.Type)
		assert.Equal(t, uint32(9), f.RecordID)
		assert.Equal(t, uint32(64), f.ByteOffset)
		assert.Equal(t, uint32(64), f.Length)
		assert.Equal(t, uint32(10), f.DataLength)
		assert.Equal(t, session.FlagBegin, f.Flags)
		assert.Equal(t, conv, f.Conversation)
	})

	t.Run("heartbeat", func(t *testing.T) {
		f, ok := ToFrame(dg, aeron.Header{Type: aeron.TypeData})
		require.True(t, ok)
		assert.Zero(t, f.Length)
		assert.Zero(t, f.DataLength)
	})

	t.Run("pad", func(t *testing.T) {
		f, ok := ToFrame(dg, aeron.Header{Type: aeron.TypePad, FrameLength: 1000})
		require.True(t, ok)
		assert.Equal(t, session.FramePad, f.Type)
		assert.Equal(t, uint32(1024), f.Length)
		assert.Zero(t, f.DataLength)
	})

	t.Run("status", func(t *testing.T) {
		f, ok := ToFrame(dg, aeron.StatusFrame(1, 2, 3, 4096, 65536, 7))
		require.True(t, ok)
		assert.Equal(t, session.FrameStatus, f.Type)
		assert.Equal(t, uint32(65536), f.ReceiverWindow)
		assert.Equal(t, "10.0.0.2", f.SrcAddr)
		assert.Equal(t, uint16(5000), f.SrcPort)
	})

	t.Run("setup", func(t *testing.T) {
		f, ok := ToFrame(dg, aeron.SetupFrame(1, 2, 3, 65536, 1408))
		require.True(t, ok)
		assert.Equal(t, uint32(65536), f.TermLength)
		assert.Equal(t, uint32(1408), f.MTU)
		assert.Equal(t, uint32(3), f.TermID)
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := ToFrame(dg, aeron.Header{Type: 0x42})
		assert.False(t, ok)
	})
}

func TestDump(t *testing.T) {
	c := &capture{t: t}
	c.add(aeron.SetupFrame(sessionID, streamID, 1, 65536, 1408))
	c.add(aeron.DataFrame(sessionID, streamID, 1, 0, aeron.FlagBegin|aeron.FlagEnd, make([]byte, 1376)))
	c.add(aeron.DataFrame(sessionID, streamID, 1, 1408, 0, nil))
	c.add(aeron.NakFrame(sessionID, streamID, 1, 0, 1408))

	r := NewRunner(allAnalysis, nil)
	require.NoError(t, r.Run(context.Background(), c.datagrams))

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, r.Manager()))
	out := buf.String()
	assert.Contains(t, out, "TRANSPORT")
	assert.Contains(t, out, "KEEPALIVE")
	assert.Contains(t, out, "nak=1/0+1408 unrecovered=1408")
	assert.Equal(t, 5, bytes.Count(buf.Bytes(), []byte("\n")))
}
