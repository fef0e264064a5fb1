package config

import (
	"context"
	"fmt"
	"time"

	"github.com/faucetdb/basin/internal/model"
)

// RecordAnalytics appends one request entry.
func (s *Store) RecordAnalytics(ctx context.Context, e *model.AnalyticsEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO api_analytics
		(user_id, api_key_id, table_name, method, status_code, duration_ms, client_ip, created_at)
		VALUES
		(:user_id, :api_key_id, :table_name, :method, :status_code, :duration_ms, :client_ip, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("insert analytics: %w", err)
	}
	return nil
}

// ListAnalytics returns the most recent entries, optionally for one table.
func (s *Store) ListAnalytics(ctx context.Context, table string, limit int) ([]model.AnalyticsEntry, error) {
	var entries []model.AnalyticsEntry
	var err error
	if table == "" {
		err = s.db.SelectContext(ctx, &entries,
			"SELECT * FROM api_analytics ORDER BY id DESC LIMIT ?", limit)
	} else {
		err = s.db.SelectContext(ctx, &entries,
			"SELECT * FROM api_analytics WHERE table_name = ? ORDER BY id DESC LIMIT ?", table, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	return entries, nil
}

// SummarizeAnalytics aggregates entries created at or after since.
func (s *Store) SummarizeAnalytics(ctx context.Context, since time.Time) ([]model.AnalyticsSummary, error) {
	var out []model.AnalyticsSummary
	const q = `SELECT table_name,
			COUNT(*) AS requests,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS errors,
			AVG(duration_ms) AS avg_duration_ms
		FROM api_analytics
		WHERE created_at >= ?
		GROUP BY table_name
		ORDER BY requests DESC`
	if err := s.db.SelectContext(ctx, &out, q, since.UTC()); err != nil {
		return nil, fmt.Errorf("summarize analytics: %w", err)
	}
	return out, nil
}
