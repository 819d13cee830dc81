package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/breeze-rmm/driftd/internal/model"
)

// ReplaceBaselines deletes every baseline row for the (tenant, agent scope,
// facet) and inserts the given set in one transaction. Last write wins, full
// replace; there is no patch semantic. agentID empty targets the tenant-wide
// default scope.
func (s *Store) ReplaceBaselines(ctx context.Context, tenantID, agentID string, facet model.Facet, baselines []model.Baseline) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin baseline replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM baselines WHERE tenant_id = ? AND agent_id = ? AND facet = ?`,
		tenantID, agentID, string(facet),
	); err != nil {
		return fmt.Errorf("clear baseline scope: %w", err)
	}

	for _, b := range baselines {
		expected, err := marshalFields(b.Expected)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO baselines (tenant_id, agent_id, facet, identity_key, expected, is_critical, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tenantID, agentID, string(facet), b.IdentityKey, expected, boolToInt(b.IsCritical), b.Notes,
		); err != nil {
			return fmt.Errorf("insert baseline %q: %w", b.IdentityKey, err)
		}
	}

	return tx.Commit()
}

// FindBaseline resolves the baseline for one identity: the agent-specific row
// if present, else the tenant-wide default, else nil.
func (s *Store) FindBaseline(ctx context.Context, tenantID, agentID string, facet model.Facet, identityKey string) (*model.Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, identity_key, expected, is_critical, notes
		FROM baselines
		WHERE tenant_id = ? AND facet = ? AND identity_key = ? AND agent_id IN (?, '')
		ORDER BY agent_id DESC
		LIMIT 1`,
		tenantID, string(facet), identityKey, agentID,
	)

	b, err := scanBaseline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find baseline: %w", err)
	}
	return &b, nil
}

// BaselinesForScope lists the stored baseline set for one scope and facet.
func (s *Store) BaselinesForScope(ctx context.Context, tenantID, agentID string, facet model.Facet) ([]model.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, identity_key, expected, is_critical, notes
		FROM baselines
		WHERE tenant_id = ? AND agent_id = ? AND facet = ?
		ORDER BY identity_key`,
		tenantID, agentID, string(facet),
	)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var out []model.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CriticalBaselines returns every baseline marked critical that applies to the
// (tenant, agent) scope for a facet, keyed by identity. Agent-specific rows
// shadow tenant-wide rows for the same identity.
func (s *Store) CriticalBaselines(ctx context.Context, tenantID, agentID string, facet model.Facet) (map[string]model.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, identity_key, expected, is_critical, notes
		FROM baselines
		WHERE tenant_id = ? AND facet = ? AND agent_id IN (?, '')
		ORDER BY agent_id ASC`,
		tenantID, string(facet), agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("critical baselines: %w", err)
	}
	defer rows.Close()

	// Tenant-wide rows ('' sorts first) are overwritten by agent rows.
	applicable := make(map[string]model.Baseline)
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, err
		}
		applicable[b.IdentityKey] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	critical := make(map[string]model.Baseline)
	for key, b := range applicable {
		if b.IsCritical {
			critical[key] = b
		}
	}
	return critical, nil
}

func scanBaseline(row rowScanner) (model.Baseline, error) {
	var (
		b        model.Baseline
		facet    string
		expected string
		critical int
	)
	if err := row.Scan(&b.ID, &b.TenantID, &b.AgentID, &facet, &b.IdentityKey, &expected, &critical, &b.Notes); err != nil {
		return model.Baseline{}, err
	}
	parsed, err := unmarshalFields(expected)
	if err != nil {
		return model.Baseline{}, err
	}
	b.Facet = model.Facet(facet)
	b.Expected = parsed
	b.IsCritical = critical != 0
	return b, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
