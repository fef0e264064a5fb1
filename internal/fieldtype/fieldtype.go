// Package fieldtype defines the declared field types a model may use and the
// table-driven behavior attached to each: storage kind, wire coercion,
// rendering of stored values, and default-value policy.
package fieldtype

import (
	"fmt"
	"sort"
)

// Type is the declared type of a model field.
type Type string

const (
	String   Type = "string"
	Text     Type = "text"
	RichText Type = "richtext"
	Integer  Type = "integer"
	Float    Type = "float"
	Decimal  Type = "decimal"
	Boolean  Type = "boolean"
	Date     Type = "date"
	DateTime Type = "datetime"
	Time     Type = "time"
	JSON     Type = "json"
	Array    Type = "array"
	Enum     Type = "enum"
	Select   Type = "select"
	Email    Type = "email"
	URL      Type = "url"
	Phone    Type = "phone"
	Slug     Type = "slug"
	UUID     Type = "uuid"
	File     Type = "file"
	Image    Type = "image"
)

// Kind is the storage class a declared type maps onto. Each SQL dialect
// renders a Kind as a concrete column type.
type Kind int

const (
	KindString Kind = iota
	KindText
	KindInteger
	KindFloat
	KindDecimal
	KindBoolean
	KindDate
	KindDateTime
	KindTime
	KindJSON
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindTime:
		return "time"
	case KindJSON:
		return "json"
	case KindUUID:
		return "uuid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type spec struct {
	kind Kind
	// JSON Schema type and format used in generated API documents.
	jsonType string
	format   string
	coerce   coerceFunc
	// rule is a validation rule implied by the type itself.
	rule         string
	needsOptions bool
}

var specs = map[Type]spec{
	String:   {kind: KindString, jsonType: "string", coerce: coerceString},
	Text:     {kind: KindText, jsonType: "string", coerce: coerceText},
	RichText: {kind: KindText, jsonType: "string", coerce: coerceText},
	Integer:  {kind: KindInteger, jsonType: "integer", format: "int64", coerce: coerceInteger},
	Float:    {kind: KindFloat, jsonType: "number", format: "double", coerce: coerceFloat},
	Decimal:  {kind: KindDecimal, jsonType: "number", coerce: coerceFloat},
	Boolean:  {kind: KindBoolean, jsonType: "boolean", coerce: coerceBoolean},
	Date:     {kind: KindDate, jsonType: "string", format: "date", coerce: coerceDate},
	DateTime: {kind: KindDateTime, jsonType: "string", format: "date-time", coerce: coerceDateTime},
	Time:     {kind: KindTime, jsonType: "string", format: "time", coerce: coerceTime},
	JSON:     {kind: KindJSON, jsonType: "object", coerce: coerceJSON},
	Array:    {kind: KindJSON, jsonType: "array", coerce: coerceArray},
	Enum:     {kind: KindString, jsonType: "string", coerce: coerceOption, needsOptions: true},
	Select:   {kind: KindString, jsonType: "string", coerce: coerceOption, needsOptions: true},
	Email:    {kind: KindString, jsonType: "string", format: "email", coerce: coerceString, rule: "email"},
	URL:      {kind: KindString, jsonType: "string", format: "uri", coerce: coerceString, rule: "url"},
	Phone:    {kind: KindString, jsonType: "string", coerce: coerceString},
	Slug:     {kind: KindString, jsonType: "string", coerce: coerceString, rule: "alpha_dash"},
	UUID:     {kind: KindUUID, jsonType: "string", format: "uuid", coerce: coerceUUID},
	File:     {kind: KindString, jsonType: "string", coerce: coerceString},
	Image:    {kind: KindString, jsonType: "string", coerce: coerceString},
}

// All returns every declared type in lexical order.
func All() []Type {
	out := make([]Type, 0, len(specs))
	for t := range specs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether t is a known declared type.
func (t Type) Valid() bool {
	_, ok := specs[t]
	return ok
}

// Kind returns the storage kind of t. Unknown types are stored as strings.
func (t Type) Kind() Kind {
	if s, ok := specs[t]; ok {
		return s.kind
	}
	return KindString
}

// JSONType returns the JSON Schema type used to describe t.
func (t Type) JSONType() string {
	if s, ok := specs[t]; ok {
		return s.jsonType
	}
	return "string"
}

// Format returns the JSON Schema format for t, or "".
func (t Type) Format() string {
	return specs[t].format
}

// ImpliedRule returns the validation rule the type carries implicitly.
func (t Type) ImpliedRule() string {
	return specs[t].rule
}

// RequiresOptions reports whether values must come from a fixed option list.
func (t Type) RequiresOptions() bool {
	return specs[t].needsOptions
}

// Textual reports whether values of t can be matched by free-text search.
func (t Type) Textual() bool {
	k := t.Kind()
	return k == KindString || k == KindText
}
