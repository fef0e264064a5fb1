package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/basin/internal/model"
)

// AnalyticsSink accepts request entries without blocking.
type AnalyticsSink interface {
	Record(e *model.AnalyticsEntry)
}

// Analytics records one entry per data API request: who made it, against
// which table, and how it went.
func Analytics(sink AnalyticsSink, tableParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r)

			e := &model.AnalyticsEntry{
				TableName:  chi.URLParam(r, tableParam),
				Method:     r.Method,
				StatusCode: ww.status,
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   clientIP(r),
				CreatedAt:  start.UTC(),
			}
			if p := GetPrincipal(r.Context()); p != nil {
				e.UserID = p.UserID
				if p.APIKey != nil {
					id := p.APIKey.ID
					e.APIKeyID = &id
				}
			}
			sink.Record(e)
		})
	}
}
