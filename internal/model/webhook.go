package model

import (
	"slices"
	"time"
)

// Webhook events.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventPing    = "ping"
)

// Webhook delivers change notifications for one model to an external URL.
type Webhook struct {
	ID              int64             `json:"id" db:"id"`
	ModelID         int64             `json:"model_id" db:"model_id"`
	URL             string            `json:"url" db:"url"`
	Secret          string            `json:"-" db:"secret"`
	Events          []string          `json:"events"`
	Headers         map[string]string `json:"headers"`
	Condition       string            `json:"condition,omitempty" db:"condition_expr"`
	IsActive        bool              `json:"is_active" db:"is_active"`
	FailureCount    int               `json:"failure_count" db:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Subscribed reports whether the webhook wants event.
func (w *Webhook) Subscribed(event string) bool {
	return slices.Contains(w.Events, event)
}

// HasSecret reports whether deliveries are signed.
func (w *Webhook) HasSecret() bool {
	return w.Secret != ""
}

// ValidEvent reports whether e is a subscribable event.
func ValidEvent(e string) bool {
	return e == EventCreated || e == EventUpdated || e == EventDeleted
}
