package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/basin/internal/model"
)

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

type webhookRow struct {
	ID              int64      `db:"id"`
	ModelID         int64      `db:"model_id"`
	URL             string     `db:"url"`
	Secret          string     `db:"secret"`
	EventsJSON      string     `db:"events_json"`
	HeadersJSON     string     `db:"headers_json"`
	ConditionExpr   string     `db:"condition_expr"`
	IsActive        bool       `db:"is_active"`
	FailureCount    int        `db:"failure_count"`
	LastTriggeredAt *time.Time `db:"last_triggered_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func webhookRowFromModel(w *model.Webhook) (webhookRow, error) {
	events, err := json.Marshal(nonNil(w.Events))
	if err != nil {
		return webhookRow{}, fmt.Errorf("marshal events: %w", err)
	}
	headers := w.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	hb, err := json.Marshal(headers)
	if err != nil {
		return webhookRow{}, fmt.Errorf("marshal headers: %w", err)
	}
	return webhookRow{
		ID:              w.ID,
		ModelID:         w.ModelID,
		URL:             w.URL,
		Secret:          w.Secret,
		EventsJSON:      string(events),
		HeadersJSON:     string(hb),
		ConditionExpr:   w.Condition,
		IsActive:        w.IsActive,
		FailureCount:    w.FailureCount,
		LastTriggeredAt: w.LastTriggeredAt,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}, nil
}

func (r webhookRow) toModel() (model.Webhook, error) {
	w := model.Webhook{
		ID:              r.ID,
		ModelID:         r.ModelID,
		URL:             r.URL,
		Secret:          r.Secret,
		Condition:       r.ConditionExpr,
		IsActive:        r.IsActive,
		FailureCount:    r.FailureCount,
		LastTriggeredAt: r.LastTriggeredAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.EventsJSON), &w.Events); err != nil {
		return model.Webhook{}, fmt.Errorf("unmarshal events: %w", err)
	}
	if err := json.Unmarshal([]byte(r.HeadersJSON), &w.Headers); err != nil {
		return model.Webhook{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	return w, nil
}

func webhooksFromRows(rows []webhookRow) ([]model.Webhook, error) {
	out := make([]model.Webhook, 0, len(rows))
	for _, r := range rows {
		w, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// CreateWebhook inserts a webhook. The URL must already be validated.
func (s *Store) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	row, err := webhookRowFromModel(w)
	if err != nil {
		return err
	}
	const q = `INSERT INTO webhooks
		(model_id, url, secret, events_json, headers_json, condition_expr, is_active, created_at, updated_at)
		VALUES
		(:model_id, :url, :secret, :events_json, :headers_json, :condition_expr, :is_active, :created_at, :updated_at)`
	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(ctx context.Context, id int64) (*model.Webhook, error) {
	var row webhookRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM webhooks WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	w, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWebhooks returns every webhook.
func (s *Store) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM webhooks ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooksFromRows(rows)
}

// ListActiveWebhooks returns the active webhooks of a model.
func (s *Store) ListActiveWebhooks(ctx context.Context, modelID int64) ([]model.Webhook, error) {
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM webhooks WHERE model_id = ? AND is_active = 1 ORDER BY id", modelID); err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	return webhooksFromRows(rows)
}

// UpdateWebhook rewrites a webhook's configuration. Delivery counters are
// left untouched.
func (s *Store) UpdateWebhook(ctx context.Context, w *model.Webhook) error {
	w.UpdatedAt = time.Now().UTC()
	row, err := webhookRowFromModel(w)
	if err != nil {
		return err
	}
	const q = `UPDATE webhooks SET
		url = :url, secret = :secret, events_json = :events_json, headers_json = :headers_json,
		condition_expr = :condition_expr, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return rowsAffected(result, "update webhook")
}

// DeleteWebhook removes a webhook.
func (s *Store) DeleteWebhook(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return rowsAffected(result, "delete webhook")
}

// RecordWebhookDelivery stamps last_triggered_at and, on failure, increments
// failure_count in a single statement.
func (s *Store) RecordWebhookDelivery(ctx context.Context, id int64, ok bool, at time.Time) error {
	failed := 0
	if !ok {
		failed = 1
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE webhooks SET last_triggered_at = ?, failure_count = failure_count + ? WHERE id = ?",
		at.UTC(), failed, id)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return rowsAffected(result, "record webhook delivery")
}
