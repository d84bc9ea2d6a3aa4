package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"aeron-analyzer/internal/session"
)

const timeFormat = time.RFC3339Nano

//go:embed schema.sql
var schema string

// Store persists analysis results in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Run describes one stored analysis run.
type Run struct {
	ID          string
	CaptureFile string
	StartedAt   time.Time
}

// FrameFlags is the stored classification of one frame.
type FrameFlags struct {
	FrameID       int
	RecordID      uint32
	ByteOffset    uint32
	Type          string
	Flags         string
	AnalysisFlags string
	High          string
	Message       int
}

// Open opens or creates a SQLite store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveRun records a run and returns its id, generating one if run.ID is empty.
func (s *Store) SaveRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO runs (id, capture_file, started_at) VALUES (?, ?, ?)`,
		run.ID, run.CaptureFile, run.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return run.ID, nil
}

// SaveFrames stores every frame record of m in one transaction.
func (s *Store) SaveFrames(ctx context.Context, runID string, m *session.Manager) error {
	frames := m.Frames()
	return s.inTx(ctx, "frames", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames (
			run_id, frame_id, record_id, byte_offset, frame_type, flags, analysis_flags, high,
			transport_prev, transport_next, stream_prev, stream_next,
			term_prev, term_next, fragment_prev, fragment_next, message_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range frames {
			var analysisFlags, high sql.NullString
			if sa := rec.Analysis; sa != nil {
				analysisFlags = sql.NullString{String: sa.Flags.String(), Valid: true}
				high = sql.NullString{String: sa.High.String(), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				runID, int(rec.ID), rec.RecordID, rec.ByteOffset, rec.Type.String(), rec.Flags.String(),
				analysisFlags, high,
				int(rec.Transport.Prev), int(rec.Transport.Next),
				int(rec.Stream.Prev), int(rec.Stream.Next),
				int(rec.Term.Prev), int(rec.Term.Next),
				int(rec.Fragment.Prev), int(rec.Fragment.Next),
				int(rec.Message),
			); err != nil {
				return fmt.Errorf("frame %d: %w", rec.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET frames = ? WHERE id = ?`, len(frames), runID)
		return err
	})
}

// SaveNaks stores every NAK of m with its recovery state.
func (s *Store) SaveNaks(ctx context.Context, runID string, m *session.Manager) error {
	naks := m.Naks()
	return s.inTx(ctx, "naks", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO naks (
			run_id, nak_id, frame_id, term_id, term_offset, length, unrecovered, rx_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, nak := range naks {
			state := m.NakState(nak.ID)
			if _, err := stmt.ExecContext(ctx,
				runID, int(nak.ID), int(nak.Frame), nak.TermID, nak.TermOffset, nak.Length,
				state.Unrecovered, len(state.Rx),
			); err != nil {
				return fmt.Errorf("nak %d: %w", nak.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET naks = ? WHERE id = ?`, len(naks), runID)
		return err
	})
}

// SaveMessages stores every message of m, complete or not.
func (s *Store) SaveMessages(ctx context.Context, runID string, m *session.Manager) error {
	msgs := m.Messages()
	return s.inTx(ctx, "messages", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (
			run_id, message_id, term_id, first_term_offset, length, fragment_count,
			complete, completed_by, min_record_id, max_record_id, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, msg := range msgs {
			if _, err := stmt.ExecContext(ctx,
				runID, int(msg.ID), msg.TermID, msg.FirstTermOffset, msg.Length, msg.FragmentCount,
				msg.Complete, int(msg.CompletedBy), msg.MinRecordID, msg.MaxRecordID, msg.Data,
			); err != nil {
				return fmt.Errorf("message %d: %w", msg.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET messages = ? WHERE id = ?`, len(msgs), runID)
		return err
	})
}

// SaveAnalysis stores a run together with its frames, NAKs and messages.
func (s *Store) SaveAnalysis(ctx context.Context, run Run, m *session.Manager) (string, error) {
	runID, err := s.SaveRun(ctx, run)
	if err != nil {
		return "", err
	}
	if err := s.SaveFrames(ctx, runID, m); err != nil {
		return "", err
	}
	if err := s.SaveNaks(ctx, runID, m); err != nil {
		return "", err
	}
	if err := s.SaveMessages(ctx, runID, m); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{
		"run_id":   runID,
		"frames":   len(m.Frames()),
		"naks":     len(m.Naks()),
		"messages": len(m.Messages()),
	}).Info("Analysis stored")
	return runID, nil
}

// LoadFrameFlags returns the stored frame classifications of a run in
// processing order.
func (s *Store) LoadFrameFlags(ctx context.Context, runID string) ([]FrameFlags, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT frame_id, record_id, byte_offset, frame_type, flags,
		analysis_flags, high, message_id FROM frames WHERE run_id = ? ORDER BY frame_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []FrameFlags
	for rows.Next() {
		var ff FrameFlags
		var analysisFlags, high sql.NullString
		if err := rows.Scan(&ff.FrameID, &ff.RecordID, &ff.ByteOffset, &ff.Type, &ff.Flags,
			&analysisFlags, &high, &ff.Message); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		ff.AnalysisFlags = analysisFlags.String
		ff.High = high.String
		out = append(out, ff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frames of run %s: %w", runID, err)
	}
	return out, nil
}

// CountRows returns the frame, NAK and message totals recorded for a run.
func (s *Store) CountRows(ctx context.Context, runID string) (frames, naks, messages int, err error) {
	err = s.sqlDB.QueryRowContext(ctx, `SELECT frames, naks, messages FROM runs WHERE id = ?`, runID).
		Scan(&frames, &naks, &messages)
	if err != nil {
		err = fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return
}

func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", what, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", what, err)
	}
	return nil
}
