// Package validate applies the per-field validation rules declared on model
// fields, and validates metadata request bodies by struct tag.
//
// Field rules use a small "name:arg" syntax. Most map onto
// go-playground/validator tags; regex rules use regexp and expr rules are
// expr-lang boolean expressions over value and record.
package validate

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-playground/validator/v10"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/model"
)

// argKind describes what a rule's argument must look like.
type argKind int

const (
	argNone argKind = iota
	argNumber
	argTwoNumbers
	argText
	argList
	argPattern
	argExpr
)

type ruleSpec struct {
	arg argKind
	// tag is the validator tag; empty when the rule is evaluated natively.
	tag string
	// stringOnly rules coerce non-string values with fmt.Sprint.
	stringOnly bool
	msg        string
}

var ruleSpecs = map[string]ruleSpec{
	"min":         {arg: argNumber, tag: "min"},
	"max":         {arg: argNumber, tag: "max"},
	"between":     {arg: argTwoNumbers},
	"size":        {arg: argNumber, tag: "len"},
	"email":       {tag: "email", stringOnly: true, msg: "The %s field must be a valid email address."},
	"url":         {tag: "url", stringOnly: true, msg: "The %s field must be a valid URL."},
	"uuid":        {tag: "uuid", stringOnly: true, msg: "The %s field must be a valid UUID."},
	"ip":          {tag: "ip", stringOnly: true, msg: "The %s field must be a valid IP address."},
	"alpha":       {tag: "alpha", stringOnly: true, msg: "The %s field must only contain letters."},
	"alpha_num":   {tag: "alphanum", stringOnly: true, msg: "The %s field must only contain letters and numbers."},
	"alpha_dash":  {tag: "alpha_dash", stringOnly: true, msg: "The %s field must only contain letters, numbers, dashes and underscores."},
	"numeric":     {tag: "numeric", stringOnly: true, msg: "The %s field must be a number."},
	"lowercase":   {tag: "lowercase", stringOnly: true, msg: "The %s field must be lowercase."},
	"uppercase":   {tag: "uppercase", stringOnly: true, msg: "The %s field must be uppercase."},
	"starts_with": {arg: argText, tag: "startswith", stringOnly: true, msg: "The %s field must start with %s."},
	"ends_with":   {arg: argText, tag: "endswith", stringOnly: true, msg: "The %s field must end with %s."},
	"json":        {tag: "json", msg: "The %s field must be a valid JSON string."},
	"in":          {arg: argList, msg: "The selected %s is invalid."},
	"not_in":      {arg: argList, msg: "The selected %s is invalid."},
	"regex":       {arg: argPattern, msg: "The %s field format is invalid."},
	"expr":        {arg: argExpr, msg: "The %s field is invalid."},
}

// Rule is a parsed field validation rule.
type Rule struct {
	Name string
	Arg  string

	spec ruleSpec
	nums []float64
	list []string
	re   *regexp.Regexp
	prog *vm.Program
}

// Parse parses a rule string such as "min:3", "in:a,b" or "regex:^[a-z]+$".
func Parse(s string) (*Rule, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	spec, ok := ruleSpecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown validation rule %q", name)
	}
	r := &Rule{Name: name, Arg: arg, spec: spec}

	switch spec.arg {
	case argNone:
		if arg != "" {
			return nil, fmt.Errorf("rule %q takes no argument", name)
		}
	case argNumber, argTwoNumbers:
		parts := strings.Split(arg, ",")
		if want := map[argKind]int{argNumber: 1, argTwoNumbers: 2}[spec.arg]; len(parts) != want {
			return nil, fmt.Errorf("rule %q needs %d numeric argument(s)", name, want)
		}
		for _, p := range parts {
			n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %q is not a number", name, p)
			}
			r.nums = append(r.nums, n)
		}
		if name == "between" && r.nums[0] > r.nums[1] {
			return nil, fmt.Errorf("rule between: lower bound exceeds upper bound")
		}
	case argText:
		if arg == "" {
			return nil, fmt.Errorf("rule %q needs an argument", name)
		}
	case argList:
		for _, p := range strings.Split(arg, ",") {
			if p = strings.TrimSpace(p); p != "" {
				r.list = append(r.list, p)
			}
		}
		if len(r.list) == 0 {
			return nil, fmt.Errorf("rule %q needs at least one value", name)
		}
	case argPattern:
		re, err := regexp.Compile(arg)
		if err != nil {
			return nil, fmt.Errorf("rule regex: %w", err)
		}
		r.re = re
	case argExpr:
		prog, err := CompileExpr(arg)
		if err != nil {
			return nil, err
		}
		r.prog = prog
	}
	return r, nil
}

// CheckRules reports the first rule in rules that does not parse.
func CheckRules(rules []string) error {
	for _, s := range rules {
		if _, err := Parse(s); err != nil {
			return err
		}
	}
	return nil
}

// CompileExpr compiles a boolean expr-lang expression. Variables are
// resolved at run time.
func CompileExpr(src string) (*vm.Program, error) {
	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return prog, nil
}

// EvalExpr runs a compiled boolean program. Evaluation errors count as false.
func EvalExpr(prog *vm.Program, env map[string]any) bool {
	out, err := expr.Run(prog, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// Validator applies field rules and struct-tag validation. It is safe for
// concurrent use; parsed rules are cached by their source string.
type Validator struct {
	v *validator.Validate

	mu    sync.RWMutex
	rules map[string]*Rule
}

var alphaDashRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// New returns a Validator.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("alpha_dash", func(fl validator.FieldLevel) bool {
		return alphaDashRe.MatchString(fl.Field().String())
	})
	return &Validator{v: v, rules: make(map[string]*Rule)}
}

func (v *Validator) rule(s string) (*Rule, error) {
	v.mu.RLock()
	r, ok := v.rules[s]
	v.mu.RUnlock()
	if ok {
		return r, nil
	}
	r, err := Parse(s)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.rules[s] = r
	v.mu.Unlock()
	return r, nil
}

// Field validates an already-coerced value against f's implied and declared
// rules and returns one message per failed rule. Nil values are not checked;
// presence is the caller's concern.
func (v *Validator) Field(f *model.FieldDefinition, value any, record map[string]any) []string {
	if value == nil {
		return nil
	}
	sources := f.Validation
	if implied := f.Type.ImpliedRule(); implied != "" && !slices.Contains(sources, implied) {
		sources = append([]string{implied}, sources...)
	}

	var msgs []string
	for _, src := range sources {
		r, err := v.rule(src)
		if err != nil {
			// Rules are checked at save time; a stale rule is reported once.
			msgs = append(msgs, fmt.Sprintf("The %s field has an invalid rule: %v.", f.Name, err))
			continue
		}
		if !v.check(r, value, record) {
			msgs = append(msgs, r.message(f.Name, value))
		}
	}
	return msgs
}

func (v *Validator) check(r *Rule, value any, record map[string]any) bool {
	switch r.Name {
	case "in":
		return slices.Contains(r.list, fmt.Sprint(value))
	case "not_in":
		return !slices.Contains(r.list, fmt.Sprint(value))
	case "regex":
		return r.re.MatchString(fmt.Sprint(value))
	case "expr":
		return EvalExpr(r.prog, map[string]any{"value": value, "record": record})
	case "json":
		if _, ok := value.(string); !ok {
			return true
		}
	}

	if r.spec.stringOnly {
		if _, ok := value.(string); !ok {
			value = fmt.Sprint(value)
		}
	}

	tag := r.spec.tag
	switch r.Name {
	case "min", "max", "size":
		value, ok := sizeable(value)
		if !ok {
			return true
		}
		return v.v.Var(value, tag+"="+param(value, r.nums[0])) == nil
	case "between":
		value, ok := sizeable(value)
		if !ok {
			return true
		}
		return v.v.Var(value, "min="+param(value, r.nums[0])+",max="+param(value, r.nums[1])) == nil
	case "starts_with", "ends_with":
		tag += "=" + escapeParam(r.Arg)
	}
	return v.v.Var(value, tag) == nil
}

// sizeable normalises a value for the length and magnitude rules: strings
// and slices are measured by length, numbers compared as float64.
func sizeable(v any) (any, bool) {
	switch x := v.(type) {
	case string, []any:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return nil, false
}

// param renders a bound for validator. Lengths take integer parameters.
func param(value any, n float64) string {
	if _, ok := value.(float64); ok {
		return formatNum(n)
	}
	return strconv.Itoa(int(n))
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// escapeParam encodes the separators validator reserves inside a tag.
func escapeParam(s string) string {
	return strings.NewReplacer(",", "0x2C", "|", "0x7C").Replace(s)
}

func (r *Rule) message(field string, value any) string {
	unit := ""
	if _, ok := value.(string); ok {
		unit = " characters"
	} else if _, ok := value.([]any); ok {
		unit = " items"
	}
	switch r.Name {
	case "min":
		return fmt.Sprintf("The %s field must be at least %s%s.", field, formatNum(r.nums[0]), unit)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s%s.", field, formatNum(r.nums[0]), unit)
	case "between":
		return fmt.Sprintf("The %s field must be between %s and %s%s.", field, formatNum(r.nums[0]), formatNum(r.nums[1]), unit)
	case "size":
		return fmt.Sprintf("The %s field must be %s%s.", field, formatNum(r.nums[0]), unit)
	case "starts_with", "ends_with":
		return fmt.Sprintf(r.spec.msg, field, r.Arg)
	}
	return fmt.Sprintf(r.spec.msg, field)
}

// Struct validates a request body by its validate tags and returns an
// apperr validation error keyed by JSON field name.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.BadRequest("invalid request body", err)
	}
	var out apperr.Validation
	for _, fe := range verrs {
		out.Add(fe.Field(), structMessage(fe))
	}
	return out.Err()
}

func structMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s.", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("The %s field must be at least %s.", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("The %s field must be one of: %s.", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", fe.Field())
	case "url", "http_url":
		return fmt.Sprintf("The %s field must be a valid URL.", fe.Field())
	}
	return fmt.Sprintf("The %s field failed the %s rule.", fe.Field(), fe.Tag())
}
