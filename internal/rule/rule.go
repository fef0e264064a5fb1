// Package rule parses and evaluates the access rules attached to each model
// operation. The grammar is deliberately closed:
//
//	""                 admin only
//	"true"             public
//	"auth.id != null"  any authenticated principal
//	"auth.id == col"   authenticated principal owning the record via col
package rule

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/faucetdb/basin/internal/model"
)

// ErrUnknownRule is returned by Parse for strings outside the grammar.
var ErrUnknownRule = errors.New("unknown access rule")

// Kind discriminates the rule variants.
type Kind int

const (
	Admin Kind = iota
	Public
	Authenticated
	OwnerEquals
)

// Rule is a parsed access rule.
type Rule struct {
	Kind Kind
	// Column holds the owner column for OwnerEquals.
	Column string
}

func (r Rule) String() string {
	switch r.Kind {
	case Public:
		return "true"
	case Authenticated:
		return "auth.id != null"
	case OwnerEquals:
		return "auth.id == " + r.Column
	}
	return ""
}

var (
	ownerLeft  = regexp.MustCompile(`^auth\.id\s*==\s*([a-z_][a-z0-9_]*)$`)
	ownerRight = regexp.MustCompile(`^([a-z_][a-z0-9_]*)\s*==\s*auth\.id$`)
	authedRe   = regexp.MustCompile(`^auth\.id\s*!=\s*null$`)
)

// keywords cannot name an owner column.
var keywords = map[string]bool{"auth": true, "null": true, "true": true, "false": true}

// Parse converts a rule string into a Rule.
func Parse(s string) (Rule, error) {
	s = strings.Join(strings.Fields(s), " ")
	switch {
	case s == "":
		return Rule{Kind: Admin}, nil
	case s == "true":
		return Rule{Kind: Public}, nil
	case authedRe.MatchString(s):
		return Rule{Kind: Authenticated}, nil
	}
	if m := ownerLeft.FindStringSubmatch(s); m != nil && !keywords[m[1]] {
		return Rule{Kind: OwnerEquals, Column: m[1]}, nil
	}
	if m := ownerRight.FindStringSubmatch(s); m != nil && !keywords[m[1]] {
		return Rule{Kind: OwnerEquals, Column: m[1]}, nil
	}
	return Rule{}, fmt.Errorf("%w: %q", ErrUnknownRule, s)
}

// MustParse is Parse for rules already validated at save time. Unparseable
// rules degrade to admin-only.
func MustParse(s string) Rule {
	r, err := Parse(s)
	if err != nil {
		return Rule{Kind: Admin}
	}
	return r
}

// Allow evaluates r for principal p against record. record may be nil for
// operations without a target row; an owner rule then denies.
func Allow(r Rule, p *model.Principal, record map[string]any) bool {
	if p != nil && p.IsAdmin {
		return true
	}
	switch r.Kind {
	case Public:
		return true
	case Authenticated:
		return p.Authenticated()
	case OwnerEquals:
		if !p.Authenticated() || record == nil {
			return false
		}
		v, ok := record[r.Column]
		if !ok {
			return false
		}
		return SameID(v, *p.UserID)
	}
	return false
}

// RowFilter returns the column and value a list query must be restricted by,
// or ok=false if the rule needs no row filter for p.
func RowFilter(r Rule, p *model.Principal) (column string, value int64, ok bool) {
	if r.Kind != OwnerEquals || p == nil || p.IsAdmin || p.UserID == nil {
		return "", 0, false
	}
	return r.Column, *p.UserID, true
}

// SameID compares a stored owner value with a principal id, normalising
// numeric and string representations.
func SameID(v any, id int64) bool {
	switch x := v.(type) {
	case int64:
		return x == id
	case int:
		return int64(x) == id
	case int32:
		return int64(x) == id
	case float64:
		return x == float64(id)
	case json.Number:
		return SameID(x.String(), id)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return err == nil && n == id
	case []byte:
		return SameID(string(x), id)
	}
	return false
}
