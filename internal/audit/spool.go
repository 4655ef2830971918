package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/moneyflow/engine/pkg/audit"
)

// Spool is a local append-only SQLite file holding audit events that
// could not reach the primary sink. It exists so fire-and-forget
// auditing never silently loses the trail.
type Spool struct {
	db *sql.DB
}

// OpenSpool opens (or creates) the spool file at path.
func OpenSpool(path string) (*Spool, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit spool: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_spool (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			payload TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit spool: %w", err)
	}

	return &Spool{db: db}, nil
}

// Append stores one event in the spool.
func (s *Spool) Append(ctx context.Context, ev *audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_spool (id, actor_id, event_type, severity, payload, previous_hash, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ActorID, ev.EventType, ev.Severity, ev.Payload, ev.PreviousHash, ev.Hash, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to spool audit event: %w", err)
	}
	return nil
}

// Drain re-delivers spooled events oldest-first through deliver,
// removing each event once delivered. It stops at the first failure so
// ordering is preserved, and returns how many events were drained.
func (s *Spool) Drain(ctx context.Context, deliver func(context.Context, *audit.Event) error) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, event_type, severity, payload, previous_hash, hash, created_at
		FROM audit_spool
		ORDER BY created_at ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit spool: %w", err)
	}

	var events []*audit.Event
	for rows.Next() {
		var ev audit.Event
		if err := rows.Scan(&ev.ID, &ev.ActorID, &ev.EventType, &ev.Severity,
			&ev.Payload, &ev.PreviousHash, &ev.Hash, &ev.Timestamp); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan spooled event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	drained := 0
	for _, ev := range events {
		if err := deliver(ctx, ev); err != nil {
			return drained, fmt.Errorf("failed to re-deliver spooled event %s: %w", ev.ID, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_spool WHERE id = ?`, ev.ID); err != nil {
			return drained, fmt.Errorf("failed to remove drained event %s: %w", ev.ID, err)
		}
		drained++
	}

	return drained, nil
}

// Close closes the underlying SQLite handle.
func (s *Spool) Close() error {
	return s.db.Close()
}
