package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/breeze-rmm/driftd/internal/httputil"
	"github.com/breeze-rmm/driftd/internal/model"
)

// Sender delivers one notification. Implementations own their transport
// semantics; the worker only cares about success or failure.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// webhookPayload is the JSON body POSTed for each notification.
type webhookPayload struct {
	TenantID  string `json:"tenant_id"`
	EventID   int64  `json:"event_id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	QueuedAt  string `json:"queued_at"`
}

// WebhookSender POSTs notifications to a single configured endpoint using
// the retrying client. Anything other than 2xx is a delivery failure.
type WebhookSender struct {
	client *httputil.Client
	url    string
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		client: httputil.NewClient(10 * time.Second),
		url:    url,
	}
}

func (s *WebhookSender) Send(ctx context.Context, n model.Notification) error {
	status, err := s.client.PostJSON(ctx, s.url, webhookPayload{
		TenantID:  n.TenantID,
		EventID:   n.EventID,
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Body:      n.Body,
		QueuedAt:  n.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook delivery: unexpected status %d", status)
	}
	return nil
}
