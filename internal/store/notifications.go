package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/breeze-rmm/driftd/internal/model"
)

// EnqueueNotification inserts one queued notification row.
func (s *Store) EnqueueNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.Status == "" {
		n.Status = model.NotificationQueued
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (tenant_id, event_id, recipient, subject, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		n.TenantID, n.EventID, n.Recipient, n.Subject, n.Body, n.Status, n.CreatedAt.UnixNano(),
	)
	if err := row.Scan(&n.ID); err != nil {
		return model.Notification{}, fmt.Errorf("enqueue notification: %w", err)
	}
	return n, nil
}

// QueuedNotifications returns up to limit queued rows, oldest first.
func (s *Store) QueuedNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, event_id, recipient, subject, body, status, created_at, sent_at, last_error
		FROM notifications
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		model.NotificationQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("queued notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationSent records a successful delivery.
func (s *Store) MarkNotificationSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, sent_at = ?, last_error = '' WHERE id = ?`,
		model.NotificationSent, at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed records a delivery failure. The row stays failed
// until the delivery worker or an operator requeues it.
func (s *Store) MarkNotificationFailed(ctx context.Context, id int64, deliveryErr error) error {
	msg := ""
	if deliveryErr != nil {
		msg = deliveryErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, last_error = ? WHERE id = ?`,
		model.NotificationFailed, msg, id,
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// NotificationsForEvent lists the rows enqueued for one event.
func (s *Store) NotificationsForEvent(ctx context.Context, eventID int64) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, event_id, recipient, subject, body, status, created_at, sent_at, last_error
		FROM notifications
		WHERE event_id = ?
		ORDER BY id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("notifications for event: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n         model.Notification
		createdNs int64
		sentNs    sql.NullInt64
	)
	if err := row.Scan(&n.ID, &n.TenantID, &n.EventID, &n.Recipient, &n.Subject, &n.Body, &n.Status, &createdNs, &sentNs, &n.LastError); err != nil {
		return model.Notification{}, err
	}
	n.CreatedAt = time.Unix(0, createdNs).UTC()
	if sentNs.Valid {
		t := time.Unix(0, sentNs.Int64).UTC()
		n.SentAt = &t
	}
	return n, nil
}
