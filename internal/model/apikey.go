package model

import (
	"net/http"
	"slices"
	"strings"
	"time"
)

// Key types.
const (
	KeyTypePublic = "public"
	KeyTypeSecret = "secret"
)

// DefaultRateLimit is the per-minute ceiling for keys without one.
const DefaultRateLimit = 60

// APIKey authenticates data API requests. The raw token is never stored;
// LookupHash finds the row and TokenHash (salted) confirms the match.
type APIKey struct {
	ID            int64      `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	OwnerID       *int64     `json:"owner_id,omitempty" db:"owner_id"`
	KeyPrefix     string     `json:"key_prefix" db:"key_prefix"`
	LookupHash    string     `json:"-" db:"lookup_hash"`
	TokenHash     string     `json:"-" db:"token_hash"`
	Salt          string     `json:"-" db:"salt"`
	Type          string     `json:"type" db:"type"`
	Scopes        Scope      `json:"scopes" db:"scopes"`
	AllowedTables []string   `json:"allowed_tables"`
	RateLimit     int        `json:"rate_limit" db:"rate_limit"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Limit returns the effective per-minute request ceiling.
func (k *APIKey) Limit() int {
	if k.RateLimit <= 0 {
		return DefaultRateLimit
	}
	return k.RateLimit
}

// CanAccessTable reports whether the allow-list admits table. A nil list
// admits every table.
func (k *APIKey) CanAccessTable(table string) bool {
	if k.AllowedTables == nil {
		return true
	}
	return slices.Contains(k.AllowedTables, table)
}

// Expired reports whether the key is past its expiry at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Scope is a bitmask of coarse permissions granted to an API key.
type Scope int

const (
	ScopeRead   Scope = 1
	ScopeWrite  Scope = 2
	ScopeDelete Scope = 4
	ScopeAll          = ScopeRead | ScopeWrite | ScopeDelete
)

// DefaultScopes returns the scopes a new key of the given type receives.
func DefaultScopes(keyType string) Scope {
	if keyType == KeyTypeSecret {
		return ScopeAll
	}
	return ScopeRead
}

// Has reports whether s includes every bit of want.
func (s Scope) Has(want Scope) bool {
	return s&want == want
}

// ScopeFor maps an HTTP method to the scope it requires.
func ScopeFor(method string) Scope {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ScopeRead
	case http.MethodDelete:
		return ScopeDelete
	default:
		return ScopeWrite
	}
}

// Names returns the scope names in read, write, delete order.
func (s Scope) Names() []string {
	var out []string
	if s.Has(ScopeRead) {
		out = append(out, "read")
	}
	if s.Has(ScopeWrite) {
		out = append(out, "write")
	}
	if s.Has(ScopeDelete) {
		out = append(out, "delete")
	}
	return out
}

func (s Scope) String() string {
	return strings.Join(s.Names(), ",")
}

// ParseScopes builds a mask from names like "read", "write", "delete".
// Unknown names return ok=false.
func ParseScopes(names []string) (Scope, bool) {
	var s Scope
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "read":
			s |= ScopeRead
		case "write":
			s |= ScopeWrite
		case "delete":
			s |= ScopeDelete
		case "":
		default:
			return 0, false
		}
	}
	return s, true
}
