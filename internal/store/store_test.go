package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeron-analyzer/internal/config"
	"aeron-analyzer/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analysis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// analyzedManager returns a manager holding a SETUP, a two-fragment message,
// a NAK and the frame that recovers it.
func analyzedManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(config.AnalysisConfig{Sequence: true, Stream: true, Reassembly: true})
	base := session.Frame{Conversation: "10.0.0.1:40123|10.0.0.2:40123", SessionID: 7, StreamID: 1001, TermID: 3}

	frames := []session.Frame{
		{Type: session.FrameSetup, Length: 40, TermLength: 65536, MTU: 1408},
		{Type: session.FrameData, Flags: session.FlagBegin, TermOffset: 0, Length: 64, DataLength: 32, Payload: bytes.Repeat([]byte("a"), 32)},
		{Type: session.FrameData, Flags: session.FlagEnd, TermOffset: 64, Length: 64, DataLength: 32, Payload: bytes.Repeat([]byte("b"), 32)},
		{Type: session.FrameNak, Length: 28, NakTermOffset: 128, NakLength: 64},
		{Type: session.FrameData, Flags: session.FlagBegin | session.FlagEnd, TermOffset: 128, Length: 64, DataLength: 32, Payload: bytes.Repeat([]byte("c"), 32)},
	}
	for i, f := range frames {
		f.RecordID = uint32(i + 1)
		f.Conversation = base.Conversation
		f.SessionID = base.SessionID
		f.StreamID = base.StreamID
		f.TermID = base.TermID
		_, err := m.Process(f)
		require.NoError(t, err)
	}
	return m
}

func TestOpen_RejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestClose_NilSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.db")
	s, err := Open(path)
	require.NoError(t, err)
	runID, err := s.SaveRun(context.Background(), Run{CaptureFile: "a.pcap"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	frames, naks, messages, err := s.CountRows(context.Background(), runID)
	require.NoError(t, err)
	assert.Zero(t, frames+naks+messages)
}

func TestSaveRun_GeneratesID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SaveRun(ctx, Run{CaptureFile: "a.pcap"})
	require.NoError(t, err)
	second, err := s.SaveRun(ctx, Run{CaptureFile: "a.pcap"})
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	fixed, err := s.SaveRun(ctx, Run{ID: "run-1", CaptureFile: "b.pcap"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", fixed)

	_, err = s.SaveRun(ctx, Run{ID: "run-1", CaptureFile: "b.pcap"})
	assert.Error(t, err, "duplicate run id")
}

func TestSaveAnalysis(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := analyzedManager(t)

	runID, err := s.SaveAnalysis(ctx, Run{CaptureFile: "trace.pcap"}, m)
	require.NoError(t, err)

	frames, naks, messages, err := s.CountRows(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 5, frames)
	assert.Equal(t, 1, naks)
	assert.Equal(t, 1, messages)

	stored, err := s.LoadFrameFlags(ctx, runID)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for i, ff := range stored {
		assert.Equal(t, i+1, ff.FrameID)
		assert.Equal(t, uint32(i+1), ff.RecordID)
	}
	assert.Equal(t, "SETUP", stored[0].Type)
	assert.Equal(t, "DATA", stored[1].Type)
	assert.Equal(t, "NAK", stored[3].Type)
	assert.NotEmpty(t, stored[1].High, "data frames carry a stream snapshot")
	assert.Empty(t, stored[0].High)

	msg := m.Messages()[0]
	assert.Zero(t, stored[1].Message)
	assert.Equal(t, int(msg.ID), stored[2].Message, "END fragment references the message")

	var unrecovered, rxCount int
	require.NoError(t, s.sqlDB.QueryRowContext(ctx,
		`SELECT unrecovered, rx_count FROM naks WHERE run_id = ?`, runID).Scan(&unrecovered, &rxCount))
	assert.Zero(t, unrecovered)
	assert.Equal(t, 1, rxCount)

	var data []byte
	var complete bool
	require.NoError(t, s.sqlDB.QueryRowContext(ctx,
		`SELECT data, complete FROM messages WHERE run_id = ?`, runID).Scan(&data, &complete))
	assert.True(t, complete)
	assert.Equal(t, append(bytes.Repeat([]byte("a"), 32), bytes.Repeat([]byte("b"), 32)...), data)
}

func TestSaveFrames_DuplicateRunRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := analyzedManager(t)

	runID, err := s.SaveRun(ctx, Run{CaptureFile: "trace.pcap"})
	require.NoError(t, err)
	require.NoError(t, s.SaveFrames(ctx, runID, m))
	require.Error(t, s.SaveFrames(ctx, runID, m))

	stored, err := s.LoadFrameFlags(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestSaveFrames_CancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	runID, err := s.SaveRun(ctx, Run{CaptureFile: "trace.pcap"})
	require.NoError(t, err)
	cancel()

	err = s.SaveFrames(ctx, runID, analyzedManager(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFrameFlags_UnknownRun(t *testing.T) {
	s := openTestStore(t)
	stored, err := s.LoadFrameFlags(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, stored)
}
