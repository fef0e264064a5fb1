package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/faucetdb/basin/internal/model"
)

// AnalyticsStore persists request entries.
type AnalyticsStore interface {
	RecordAnalytics(ctx context.Context, e *model.AnalyticsEntry) error
}

// AnalyticsRecorder writes request entries on a background goroutine so
// that recording never slows a response. Entries that arrive while the
// buffer is full are dropped.
type AnalyticsRecorder struct {
	store  AnalyticsStore
	logger *slog.Logger
	ch     chan *model.AnalyticsEntry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAnalyticsRecorder creates a recorder with room for buffer pending
// entries. Start must be called before entries are written.
func NewAnalyticsRecorder(store AnalyticsStore, buffer int, logger *slog.Logger) *AnalyticsRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsRecorder{store: store, logger: logger, ch: make(chan *model.AnalyticsEntry, buffer)}
}

// Start begins the background writer. Non-blocking.
func (r *AnalyticsRecorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for e := range r.ch {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.store.RecordAnalytics(ctx, e); err != nil {
				r.logger.Warn("record analytics", "table", e.TableName, "error", err)
			}
			cancel()
		}
	}()
}

// Record queues e.
func (r *AnalyticsRecorder) Record(e *model.AnalyticsEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.logger.Debug("analytics buffer full, dropping entry", "table", e.TableName)
	}
}

// Shutdown flushes queued entries and stops the writer.
func (r *AnalyticsRecorder) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	r.wg.Wait()
}
