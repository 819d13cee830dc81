package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/driftd/internal/model"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// InsertEvent persists one integrity event and returns it with ID populated.
func (s *Store) InsertEvent(ctx context.Context, ev model.IntegrityEvent) (model.IntegrityEvent, error) {
	metadata, err := marshalFields(ev.Metadata)
	if err != nil {
		return model.IntegrityEvent{}, err
	}

	var agentID, snapshotID any
	if ev.AgentID != "" {
		agentID = ev.AgentID
	}
	if ev.SnapshotID != 0 {
		snapshotID = ev.SnapshotID
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO integrity_events (event_uid, tenant_id, agent_id, event_type, severity, title, description, snapshot_id, metadata, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		ev.EventUID, ev.TenantID, agentID, ev.EventType, string(ev.Severity),
		ev.Title, ev.Description, snapshotID, metadata, ev.DetectedAt.UnixNano(),
	)
	if err := row.Scan(&ev.ID); err != nil {
		return model.IntegrityEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// EventFilter narrows QueryEvents. Zero values match everything.
type EventFilter struct {
	AgentID   string
	EventType string
	Severity  string
	Limit     int
}

// QueryEvents returns a tenant's events newest first, capped by filter.Limit.
func (s *Store) QueryEvents(ctx context.Context, tenantID string, filter EventFilter) ([]model.IntegrityEvent, error) {
	query := `
		SELECT id, event_uid, tenant_id, agent_id, event_type, severity, title, description, snapshot_id, metadata, detected_at, resolved_at
		FROM integrity_events
		WHERE tenant_id = ?`
	args := []any{tenantID}

	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	query += " ORDER BY detected_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.IntegrityEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ResolveEvent marks an event acknowledged by an operator.
func (s *Store) ResolveEvent(ctx context.Context, tenantID string, eventID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE integrity_events SET resolved_at = ? WHERE id = ? AND tenant_id = ? AND resolved_at IS NULL`,
		at.UnixNano(), eventID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("resolve event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row rowScanner) (model.IntegrityEvent, error) {
	var (
		ev         model.IntegrityEvent
		agentID    sql.NullString
		snapshotID sql.NullInt64
		severity   string
		metadata   string
		detectedNs int64
		resolvedNs sql.NullInt64
	)
	if err := row.Scan(&ev.ID, &ev.EventUID, &ev.TenantID, &agentID, &ev.EventType, &severity, &ev.Title, &ev.Description, &snapshotID, &metadata, &detectedNs, &resolvedNs); err != nil {
		return model.IntegrityEvent{}, err
	}
	parsed, err := unmarshalFields(metadata)
	if err != nil {
		return model.IntegrityEvent{}, err
	}
	ev.AgentID = agentID.String
	ev.SnapshotID = snapshotID.Int64
	ev.Severity = model.Severity(severity)
	ev.Metadata = parsed
	ev.DetectedAt = time.Unix(0, detectedNs).UTC()
	if resolvedNs.Valid {
		t := time.Unix(0, resolvedNs.Int64).UTC()
		ev.ResolvedAt = &t
	}
	return ev, nil
}
