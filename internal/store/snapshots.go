package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/driftd/internal/model"
)

// UpsertSnapshot inserts an observation row. A conflicting insert for the same
// (agent, facet, identity, collected_at) is converted to an update of the
// existing row for that instant, so duplicate-report races never error.
// Returns the stored row with its ID populated, and whether the row was
// freshly inserted; a DO UPDATE keeps the original created_at, which is how a
// replayed report is told apart from a first observation.
func (s *Store) UpsertSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, bool, error) {
	fields, err := marshalFields(snap.Fields)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO snapshots (tenant_id, agent_id, facet, identity_key, fields, checksum, collected_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id, facet, identity_key, collected_at)
		DO UPDATE SET fields = excluded.fields, checksum = excluded.checksum
		RETURNING id, created_at`,
		snap.TenantID, snap.AgentID, string(snap.Facet), snap.IdentityKey,
		fields, snap.Checksum, snap.CollectedAt.UnixNano(), snap.CreatedAt.UnixNano(),
	)
	var createdNs int64
	if err := row.Scan(&snap.ID, &createdNs); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("upsert snapshot: %w", err)
	}
	inserted := createdNs == snap.CreatedAt.UnixNano()
	snap.CreatedAt = time.Unix(0, createdNs).UTC()
	return snap, inserted, nil
}

// PriorSnapshot returns the most recent snapshot with the same identity,
// excluding the row just written, or nil when no history exists.
func (s *Store) PriorSnapshot(ctx context.Context, tenantID, agentID string, facet model.Facet, identityKey string, excludeID int64) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, identity_key, fields, checksum, collected_at, created_at
		FROM snapshots
		WHERE tenant_id = ? AND agent_id = ? AND facet = ? AND identity_key = ? AND id != ?
		ORDER BY collected_at DESC, id DESC
		LIMIT 1`,
		tenantID, agentID, string(facet), identityKey, excludeID,
	)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prior snapshot: %w", err)
	}
	return &snap, nil
}

// KnownIdentities returns, for each identity ever reported for the scope
// strictly before cutoff, its last known snapshot. The scan is capped to the
// most recent windowRows rows so reconciliation stays proportional to the
// agent's inventory, not the full history.
func (s *Store) KnownIdentities(ctx context.Context, tenantID, agentID string, facet model.Facet, cutoff time.Time, windowRows int) (map[string]model.Snapshot, error) {
	if windowRows < 1 {
		windowRows = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, identity_key, fields, checksum, MAX(collected_at) AS collected_at, created_at
		FROM (
			SELECT * FROM snapshots
			WHERE tenant_id = ? AND agent_id = ? AND facet = ? AND collected_at < ?
			ORDER BY collected_at DESC, id DESC
			LIMIT ?
		)
		GROUP BY identity_key`,
		tenantID, agentID, string(facet), cutoff.UnixNano(), windowRows,
	)
	if err != nil {
		return nil, fmt.Errorf("known identities: %w", err)
	}
	defer rows.Close()

	known := make(map[string]model.Snapshot)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("known identities: %w", err)
		}
		known[snap.IdentityKey] = snap
	}
	return known, rows.Err()
}

// SnapshotsForIdentity returns the stored history for one identity, newest
// first. Used by tests and the event query surface.
func (s *Store) SnapshotsForIdentity(ctx context.Context, agentID string, facet model.Facet, identityKey string) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, identity_key, fields, checksum, collected_at, created_at
		FROM snapshots
		WHERE agent_id = ? AND facet = ? AND identity_key = ?
		ORDER BY collected_at DESC, id DESC`,
		agentID, string(facet), identityKey,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshots for identity: %w", err)
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (model.Snapshot, error) {
	var (
		snap        model.Snapshot
		facet       string
		fields      string
		collectedNs int64
		createdNs   int64
	)
	if err := row.Scan(&snap.ID, &snap.TenantID, &snap.AgentID, &facet, &snap.IdentityKey, &fields, &snap.Checksum, &collectedNs, &createdNs); err != nil {
		return model.Snapshot{}, err
	}
	parsed, err := unmarshalFields(fields)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap.Facet = model.Facet(facet)
	snap.Fields = parsed
	snap.CollectedAt = time.Unix(0, collectedNs).UTC()
	snap.CreatedAt = time.Unix(0, createdNs).UTC()
	return snap, nil
}
