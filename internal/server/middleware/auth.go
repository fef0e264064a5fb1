package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/model"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Authenticator validates the two kinds of credentials the API accepts.
// *service.AuthService satisfies it.
type Authenticator interface {
	ValidateJWT(ctx context.Context, token string) (*model.Principal, error)
	ValidateAPIKey(ctx context.Context, token string) (*model.APIKey, error)
	TouchAPIKey(ctx context.Context, key *model.APIKey)
}

// AuthOptions configures the data API guard.
type AuthOptions struct {
	// APIKeyHeader is the header checked after Authorization. Defaults to X-API-Key.
	APIKeyHeader string
	// TableParam is the chi URL parameter naming the table.
	TableParam string
	Limiter    *Limiter
}

// DataAuth guards the data API. Each request moves through extraction,
// validation, scope, table access and rate checks and stops at the first
// failure. A bearer token that is a valid admin session skips everything
// after extraction.
func DataAuth(auth Authenticator, opts AuthOptions) func(http.Handler) http.Handler {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.TableParam == "" {
		opts.TableParam = "table"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, bearer := extractToken(r, opts.APIKeyHeader)

			if bearer {
				if p, err := auth.ValidateJWT(r.Context(), token); err == nil {
					markUnlimited(w)
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
					return
				}
			}

			if token == "" {
				if opts.Limiter != nil && opts.Limiter.LimitIP(w, r) {
					return
				}
				writeError(w, apperr.Authentication(apperr.CodeMissingAPIKey, "API key is required."))
				return
			}

			key, err := auth.ValidateAPIKey(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}

			if !key.Scopes.Has(model.ScopeFor(r.Method)) {
				writeError(w, apperr.Authorization(apperr.CodeMethodNotAllowed,
					"API key does not have permission for this operation."))
				return
			}

			if table := chi.URLParam(r, opts.TableParam); table != "" && !key.CanAccessTable(table) {
				writeError(w, apperr.Authorization(apperr.CodeTableAccessDenied,
					"API key does not have access to table '"+table+"'."))
				return
			}

			if opts.Limiter != nil && opts.Limiter.LimitKey(w, r, key) {
				return
			}

			auth.TouchAPIKey(r.Context(), key)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), model.KeyPrincipal(key))))
		})
	}
}

// AdminAuth requires a valid admin session bearer token.
func AdminAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, bearer := extractToken(r, "")
			if !bearer || token == "" {
				writeError(w, apperr.Authentication(apperr.CodeUnauthorized, "Authentication required."))
				return
			}
			p, err := auth.ValidateJWT(r.Context(), token)
			if err != nil {
				writeError(w, apperr.Authentication(apperr.CodeUnauthorized, "Invalid or expired session."))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin rejects requests whose principal is not administrative.
// It must run after an authenticating middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeError(w, apperr.Authorization(apperr.CodeAccessDenied, "Admin access required."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// InternalBypass reports whether r carries the configured internal marker.
// An empty secret disables the bypass.
func InternalBypass(r *http.Request, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	got := r.Header.Get(header)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// extractToken looks in Authorization: Bearer, then the API key header,
// then the api_key query parameter.
func extractToken(r *http.Request, header string) (token string, bearer bool) {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:]), true
	}
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			return v, false
		}
		if v := r.URL.Query().Get("api_key"); v != "" {
			return v, false
		}
	}
	return "", false
}

// WithPrincipal attaches p to ctx and reports it to the request logger.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	if h, ok := ctx.Value(principalHolderKey).(*principalHolder); ok {
		h.p = p
	}
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present.
func GetPrincipal(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// writeError renders err with the error envelope. It mirrors the handler
// package's writer, which cannot be imported from here.
func writeError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("Internal server error.", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	json.NewEncoder(w).Encode(model.ErrorResponse{Success: false, Message: e.Message, ErrorCode: e.Code})
}
