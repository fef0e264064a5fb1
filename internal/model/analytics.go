package model

import "time"

// AnalyticsEntry records one data API request. Entries are append-only and
// purely observational.
type AnalyticsEntry struct {
	ID         int64     `json:"id" db:"id"`
	UserID     *int64    `json:"user_id,omitempty" db:"user_id"`
	APIKeyID   *int64    `json:"api_key_id,omitempty" db:"api_key_id"`
	TableName  string    `json:"table_name" db:"table_name"`
	Method     string    `json:"method" db:"method"`
	StatusCode int       `json:"status_code" db:"status_code"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	ClientIP   string    `json:"client_ip" db:"client_ip"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AnalyticsSummary aggregates entries per table.
type AnalyticsSummary struct {
	TableName     string  `json:"table_name" db:"table_name"`
	Requests      int64   `json:"requests" db:"requests"`
	Errors        int64   `json:"errors" db:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms" db:"avg_duration_ms"`
}
