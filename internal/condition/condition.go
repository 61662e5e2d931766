// Package condition implements the restricted rule language used by bonus,
// multiplier and achievement definitions. An expression is exactly one
// comparison of a context field against a literal:
//
//	reps >= 20
//	is_personal_record == true
//	category != "cardio"
//
// There are no boolean connectives, parentheses or function calls. Anything
// outside that shape is malformed and never matches.
package condition

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sweatbot/internal/logger"
)

// ErrMalformed is returned (wrapped) for any expression that does not have the
// shape "<identifier> <op> <literal>".
var ErrMalformed = errors.New("malformed condition")

// Op is a comparison operator
type Op string

const (
	OpGTE Op = ">="
	OpLTE Op = "<="
	OpGT  Op = ">"
	OpLT  Op = "<"
	OpEQ  Op = "=="
	OpNE  Op = "!="
)

var validOps = map[string]Op{
	">=": OpGTE,
	"<=": OpLTE,
	">":  OpGT,
	"<":  OpLT,
	"==": OpEQ,
	"!=": OpNE,
}

// Condition is a parsed single comparison.
type Condition struct {
	Field   string
	Op      Op
	Literal Value
}

// Context holds the values a condition can reference by field name.
type Context map[string]any

// Parse parses expr into a Condition.
func Parse(expr string) (Condition, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Condition{}, fmt.Errorf("%w: empty expression", ErrMalformed)
	}

	// identifier
	i := 0
	for i < len(s) && isIdentChar(s[i], i == 0) {
		i++
	}
	if i == 0 {
		return Condition{}, fmt.Errorf("%w: %q must start with a field name", ErrMalformed, expr)
	}
	field := s[:i]
	if strings.HasSuffix(field, ".") || strings.Contains(field, "..") {
		return Condition{}, fmt.Errorf("%w: invalid field name %q", ErrMalformed, field)
	}

	// operator: the whole run of operator characters has to be one operator
	rest := strings.TrimLeft(s[i:], " \t")
	j := 0
	for j < len(rest) && strings.IndexByte("<>=!", rest[j]) >= 0 {
		j++
	}
	op, ok := validOps[rest[:j]]
	if !ok {
		return Condition{}, fmt.Errorf("%w: %q has no valid operator", ErrMalformed, expr)
	}

	lit, err := parseLiteral(strings.TrimSpace(rest[j:]))
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %q: %v", ErrMalformed, expr, err)
	}

	return Condition{Field: field, Op: op, Literal: lit}, nil
}

// MustParse is Parse for expressions known at compile time (tests, defaults).
func MustParse(expr string) Condition {
	c, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func isIdentChar(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9', c == '.':
		return !first
	}
	return false
}

func parseLiteral(s string) (Value, error) {
	if s == "" {
		return Value{}, errors.New("missing literal")
	}

	switch s {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}

	if q := s[0]; q == '"' || q == '\'' {
		if len(s) < 2 || s[len(s)-1] != q {
			return Value{}, errors.New("unterminated string literal")
		}
		inner := s[1 : len(s)-1]
		if strings.IndexByte(inner, q) >= 0 {
			return Value{}, errors.New("unexpected quote inside string literal")
		}
		return String(inner), nil
	}

	// ParseFloat also accepts "inf" and "nan"; only plain decimal numbers are literals
	if c := s[0]; !(c >= '0' && c <= '9') && c != '-' && c != '+' && c != '.' {
		return Value{}, fmt.Errorf("unrecognized literal %q", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return Value{}, fmt.Errorf("invalid number %q", s)
	}
	return Number(f), nil
}

// Match reports whether ctx satisfies the condition.
//
// A field missing from ctx is undefined: every comparison against it is false
// except != with a defined literal. Mismatched types are false. Strings and
// bools only support == and !=.
func (c Condition) Match(ctx Context) bool {
	raw, present := ctx[c.Field]
	v := Undefined()
	if present {
		v = ValueOf(raw)
	}

	if v.Kind == KindUndefined {
		return c.Op == OpNE && c.Literal.Kind != KindUndefined
	}
	if v.Kind != c.Literal.Kind {
		return false
	}

	switch v.Kind {
	case KindNumber:
		return compareNumbers(v.Num, c.Op, c.Literal.Num)
	case KindBool:
		return compareEquality(v.Bool == c.Literal.Bool, c.Op)
	case KindString:
		return compareEquality(v.Str == c.Literal.Str, c.Op)
	}
	return false
}

func compareNumbers(a float64, op Op, b float64) bool {
	switch op {
	case OpGTE:
		return a >= b
	case OpLTE:
		return a <= b
	case OpGT:
		return a > b
	case OpLT:
		return a < b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	}
	return false
}

func compareEquality(equal bool, op Op) bool {
	switch op {
	case OpEQ:
		return equal
	case OpNE:
		return !equal
	}
	return false
}

// NumericTarget returns the literal as a number when it is one.
func (c Condition) NumericTarget() (float64, bool) {
	if c.Literal.Kind != KindNumber {
		return 0, false
	}
	return c.Literal.Num, true
}

// String renders the canonical form of the condition.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Literal)
}

// Evaluate parses and matches expr in one step. Malformed expressions are
// logged and evaluate to false.
func Evaluate(expr string, ctx Context) bool {
	c, err := Parse(expr)
	if err != nil {
		logger.Warn("Skipping malformed condition", "expr", expr, "error", err)
		return false
	}
	return c.Match(ctx)
}
