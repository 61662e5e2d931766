package condition

import (
	"math"
	"strconv"
)

// Kind tags the variant held by a Value
type Kind int

const (
	KindUndefined Kind = iota
	KindNumber
	KindBool
	KindString
)

// Value is a literal or context value. Exactly one of Num, Bool, Str is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
	Str  string
}

func Undefined() Value { return Value{} }

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func String(s string) Value { return Value{Kind: KindString, Str: s} }

// ValueOf converts a Go value from a Context into a Value. Unsupported types,
// nil, NaN and nil pointers are undefined.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case float64:
		if math.IsNaN(x) {
			return Undefined()
		}
		return Number(x)
	case float32:
		return ValueOf(float64(x))
	case int:
		return Number(float64(x))
	case int8:
		return Number(float64(x))
	case int16:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case *int:
		if x == nil {
			return Undefined()
		}
		return Number(float64(*x))
	case *int64:
		if x == nil {
			return Undefined()
		}
		return Number(float64(*x))
	case *float64:
		if x == nil {
			return Undefined()
		}
		return ValueOf(*x)
	}
	return Undefined()
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return strconv.Quote(v.Str)
	}
	return "undefined"
}
