// Package notify owns alert recipient resolution and the background worker
// that drains queued notifications to the configured webhook.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/breeze-rmm/driftd/internal/store"
)

// alertRecipientsKey is the per-tenant setting holding a comma-separated
// recipient list.
const alertRecipientsKey = "alert_recipients"

// Resolver picks notification recipients for a tenant: the explicit
// alert_recipients setting, else the tenant's admin emails, else the
// configured default address.
type Resolver struct {
	store        *store.Store
	defaultEmail string
}

func NewResolver(st *store.Store, defaultEmail string) *Resolver {
	return &Resolver{store: st, defaultEmail: defaultEmail}
}

func (r *Resolver) Resolve(ctx context.Context, tenantID string) ([]string, error) {
	setting, err := r.store.GetAppSetting(ctx, tenantID, alertRecipientsKey)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	if recipients := splitRecipients(setting); len(recipients) > 0 {
		return recipients, nil
	}

	admins, err := r.store.AdminEmails(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	if len(admins) > 0 {
		return admins, nil
	}

	if r.defaultEmail == "" {
		return nil, nil
	}
	return []string{r.defaultEmail}, nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
