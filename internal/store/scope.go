package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/driftd/internal/model"
)

// UpsertTenant creates or renames a tenant.
func (s *Store) UpsertTenant(ctx context.Context, t model.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		t.ID, t.Name, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// UpsertAgent creates or updates an agent row and refreshes last_seen.
func (s *Store) UpsertAgent(ctx context.Context, a model.Agent) error {
	var tenantID any
	if a.TenantID != "" {
		tenantID = a.TenantID
	}
	if a.LastSeen.IsZero() {
		a.LastSeen = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, tenant_id, hostname, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET tenant_id = excluded.tenant_id, hostname = excluded.hostname, last_seen = excluded.last_seen`,
		a.ID, tenantID, a.Hostname, a.LastSeen.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetAgent looks up one agent, or ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var (
		a        model.Agent
		tenantID sql.NullString
		hostname sql.NullString
		seenNs   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, hostname, last_seen FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &tenantID, &hostname, &seenNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	a.TenantID = tenantID.String
	a.Hostname = hostname.String
	a.LastSeen = time.Unix(0, seenNs).UTC()
	return a, nil
}

// TouchAgent refreshes an agent's last_seen timestamp.
func (s *Store) TouchAgent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return nil
}

// SetAppSetting writes one per-tenant setting.
func (s *Store) SetAppSetting(ctx context.Context, tenantID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (tenant_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = excluded.value`,
		tenantID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set app setting: %w", err)
	}
	return nil
}

// GetAppSetting returns a per-tenant setting value, or "" when unset.
func (s *Store) GetAppSetting(ctx context.Context, tenantID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE tenant_id = ? AND key = ?`, tenantID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get app setting: %w", err)
	}
	return value, nil
}

// AddAdminUser records one tenant admin email.
func (s *Store) AddAdminUser(ctx context.Context, tenantID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (tenant_id, email) VALUES (?, ?)
		ON CONFLICT (tenant_id, email) DO NOTHING`,
		tenantID, email,
	)
	if err != nil {
		return fmt.Errorf("add admin user: %w", err)
	}
	return nil
}

// AdminEmails lists a tenant's admin addresses.
func (s *Store) AdminEmails(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM admin_users WHERE tenant_id = ? ORDER BY email`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("admin emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// AddIgnoreRule stores one tenant- or agent-scoped ignore pattern.
func (s *Store) AddIgnoreRule(ctx context.Context, rule model.IgnoreRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ignore_rules (tenant_id, agent_id, facet, pattern) VALUES (?, ?, ?, ?)`,
		rule.TenantID, rule.AgentID, string(rule.Facet), rule.Pattern,
	)
	if err != nil {
		return fmt.Errorf("add ignore rule: %w", err)
	}
	return nil
}

// IgnoreRulesForScope lists rules that apply to the (tenant, agent) pair for a
// facet: agent-specific rows plus the tenant-wide rows.
func (s *Store) IgnoreRulesForScope(ctx context.Context, tenantID, agentID string, facet model.Facet) ([]model.IgnoreRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, facet, pattern
		FROM ignore_rules
		WHERE tenant_id = ? AND facet = ? AND agent_id IN (?, '')`,
		tenantID, string(facet), agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("ignore rules: %w", err)
	}
	defer rows.Close()

	var out []model.IgnoreRule
	for rows.Next() {
		var (
			rule  model.IgnoreRule
			facet string
		)
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.AgentID, &facet, &rule.Pattern); err != nil {
			return nil, err
		}
		rule.Facet = model.Facet(facet)
		out = append(out, rule)
	}
	return out, rows.Err()
}
