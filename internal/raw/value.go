package raw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Value is a sealed interface for column values.
// Only Null, String, Number and Bool implement it.
type Value interface {
	rawValue()
}

// Null is an absent value for an optional column.
type Null struct{}

func (Null) rawValue() {}

// String is a string column value.
type String string

func (String) rawValue() {}

// Number is a numeric column value.
type Number float64

func (Number) rawValue() {}

// Bool is a boolean column value.
type Bool bool

func (Bool) rawValue() {}

// IsNull reports whether v is Null (or a nil interface).
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// FromAny converts a decoded Go value into a Value.
// Accepts nil, string, bool, the integer and float kinds, and json.Number.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return numberOf(val)
	case float32:
		return numberOf(float64(val))
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return numberOf(f)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func numberOf(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return Number(f), nil
}

// ToAny converts a Value back to a plain Go value (nil, string, float64, bool).
func ToAny(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	default:
		return nil
	}
}

// Format renders a value for human-readable output.
func Format(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Number:
		return formatNumber(float64(val))
	case Bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return "null"
	}
}

// decodeValue decodes a single JSON scalar into a Value.
// Arrays and objects are rejected.
func decodeValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return Null{}, nil
	case '[', '{':
		return nil, fmt.Errorf("nested arrays and objects are not column values: %s", string(data))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return FromAny(n)
	}
}
