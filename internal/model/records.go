package model

import "time"

// Snapshot is one persisted observation row. Rows are append-only: a newer
// observation of the same identity supersedes, never replaces, an older one.
// The only in-place write is the upsert that resolves a duplicate
// (agent, facet, identity, collected_at) insert.
type Snapshot struct {
	ID          int64             `json:"id"`
	TenantID    string            `json:"tenant_id"`
	AgentID     string            `json:"agent_id"`
	Facet       Facet             `json:"facet"`
	IdentityKey string            `json:"identity_key"`
	Fields      map[string]string `json:"fields"`
	Checksum    string            `json:"checksum,omitempty"`
	CollectedAt time.Time         `json:"collected_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Baseline is an operator-authored expected state for one identity. AgentID is
// empty for the tenant-wide default scope; an agent-specific row wins over the
// tenant-wide row for the same identity.
type Baseline struct {
	ID          int64             `json:"id"`
	TenantID    string            `json:"tenant_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	Facet       Facet             `json:"facet"`
	IdentityKey string            `json:"identity_key"`
	Expected    map[string]string `json:"expected,omitempty"`
	IsCritical  bool              `json:"is_critical"`
	Notes       string            `json:"notes,omitempty"`
}

// Severity classifies a drift event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IntegrityEvent is one detected drift, derived from a diff or reconciliation
// decision. SnapshotID is zero for removals, which have no triggering row.
type IntegrityEvent struct {
	ID          int64             `json:"id"`
	EventUID    string            `json:"event_uid"`
	TenantID    string            `json:"tenant_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	EventType   string            `json:"event_type"`
	Severity    Severity          `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	SnapshotID  int64             `json:"snapshot_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DetectedAt  time.Time         `json:"detected_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// Notification statuses. Rows move queued -> sent/failed; this core only
// creates queued rows, the delivery worker owns the transitions.
const (
	NotificationQueued = "queued"
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Notification is one queued outbound alert for a critical event.
type Notification struct {
	ID        int64      `json:"id"`
	TenantID  string     `json:"tenant_id"`
	EventID   int64      `json:"event_id"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Tenant is the minimal tenant identity needed for scope checks.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Agent is the minimal agent identity needed for scope checks. TenantID is
// empty for agents that have not been assigned to a tenant yet.
type Agent struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id,omitempty"`
	Hostname string    `json:"hostname,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// IgnoreRule suppresses drift decisions for matching identities. Pattern is a
// case-insensitive prefix or glob; AgentID empty means tenant-wide.
type IgnoreRule struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty"`
	Facet    Facet  `json:"facet"`
	Pattern  string `json:"pattern"`
}
