// Package query provides identifier validation and the WHERE/ORDER BY
// building blocks the data API composes into dialect-specific SQL. Values
// are always parameterized; only validated identifiers reach SQL text.
package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxIdentifierLength bounds table and column names so they fit every
// supported dialect (MySQL allows 64).
const MaxIdentifierLength = 64

// identifierRegex validates schema identifiers: lower snake_case starting
// with a letter.
var identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// sqlReservedWords contains SQL keywords that cannot be used as identifiers.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"EXEC": true, "EXECUTE": true, "UNION": true, "INTO": true,
	"FROM": true, "WHERE": true, "TABLE": true, "DATABASE": true,
	"GRANT": true, "REVOKE": true, "INDEX": true, "VIEW": true,
	"PROCEDURE": true, "FUNCTION": true, "TRIGGER": true, "SCHEMA": true,
	"ORDER": true, "GROUP": true,
}

// ValidateIdentifier ensures a table or column name is safe to interpolate
// into DDL and DML. It rejects empty strings, names over 64 characters,
// anything but lower snake_case, and SQL reserved words.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier too long (max %d chars): %q", MaxIdentifierLength, name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-z][a-z0-9_]*", name)
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// ValidateIdentifiers validates multiple identifiers, returning the first error found.
func ValidateIdentifiers(names []string) error {
	for _, name := range names {
		if err := ValidateIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeStringValue removes null bytes and checks the result is at most
// maxLen characters. A non-positive maxLen skips the length check.
func SanitizeStringValue(val string, maxLen int) (string, error) {
	val = strings.ReplaceAll(val, "\x00", "")
	if maxLen > 0 && utf8.RuneCountInString(val) > maxLen {
		return "", fmt.Errorf("string value too long (max %d chars)", maxLen)
	}
	return val, nil
}
