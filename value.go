package flexy

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TypedValue is the application-layer variant record for one attribute value.
// Exactly one representation is active, selected by Kind; Null is legal for
// every kind and represents "attribute present but unset". Translation to and
// from the flat multi-column storage row happens only at the storage boundary.
type TypedValue struct {
	kind TypeKind
	null bool

	s string
	i int64
	d float64
	b bool
	t time.Time
	j any
}

// Null returns the null value for the given kind.
func Null(kind TypeKind) TypedValue {
	return TypedValue{kind: kind, null: true}
}

// String returns a STRING typed value.
func String(v string) TypedValue { return TypedValue{kind: TypeString, s: v} }

// Integer returns an INTEGER typed value.
func Integer(v int64) TypedValue { return TypedValue{kind: TypeInteger, i: v} }

// Decimal returns a DECIMAL typed value.
func Decimal(v float64) TypedValue { return TypedValue{kind: TypeDecimal, d: v} }

// Boolean returns a BOOLEAN typed value.
func Boolean(v bool) TypedValue { return TypedValue{kind: TypeBoolean, b: v} }

// Date returns a DATE typed value normalized to UTC midnight.
func Date(v time.Time) TypedValue {
	y, m, d := v.UTC().Date()
	return TypedValue{kind: TypeDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateTime returns a DATETIME typed value in UTC.
func DateTime(v time.Time) TypedValue {
	return TypedValue{kind: TypeDateTime, t: v.UTC()}
}

// JSON returns a JSON typed value. The payload must be json-serializable.
func JSON(v any) TypedValue { return TypedValue{kind: TypeJSON, j: v} }

// Kind returns the declared kind of the value.
func (v TypedValue) Kind() TypeKind { return v.kind }

// IsNull reports whether the value is null.
func (v TypedValue) IsNull() bool { return v.null }

// Native reconstructs the host-language representation of the value:
// string, int64, float64, bool, time.Time, or the decoded JSON payload.
// Null values of any kind yield nil.
func (v TypedValue) Native() any {
	if v.null {
		return nil
	}
	switch v.kind {
	case TypeString:
		return v.s
	case TypeInteger:
		return v.i
	case TypeDecimal:
		return v.d
	case TypeBoolean:
		return v.b
	case TypeDate, TypeDateTime:
		return v.t
	case TypeJSON:
		return v.j
	}
	return nil
}

// StringVal returns the string representation; ok is false for null or
// non-string kinds.
func (v TypedValue) StringVal() (string, bool) {
	if v.null || v.kind != TypeString {
		return "", false
	}
	return v.s, true
}

// IntVal returns the integer representation.
func (v TypedValue) IntVal() (int64, bool) {
	if v.null || v.kind != TypeInteger {
		return 0, false
	}
	return v.i, true
}

// DecimalVal returns the decimal representation.
func (v TypedValue) DecimalVal() (float64, bool) {
	if v.null || v.kind != TypeDecimal {
		return 0, false
	}
	return v.d, true
}

// BoolVal returns the boolean representation.
func (v TypedValue) BoolVal() (bool, bool) {
	if v.null || v.kind != TypeBoolean {
		return false, false
	}
	return v.b, true
}

// TimeVal returns the date or datetime representation.
func (v TypedValue) TimeVal() (time.Time, bool) {
	if v.null || (v.kind != TypeDate && v.kind != TypeDateTime) {
		return time.Time{}, false
	}
	return v.t, true
}

// JSONVal returns the decoded JSON payload.
func (v TypedValue) JSONVal() (any, bool) {
	if v.null || v.kind != TypeJSON {
		return nil, false
	}
	return v.j, true
}

// Coerce converts an incoming host value into the declared kind's native
// representation. A nil input is legal for any kind. Values of unsupported
// underlying kinds (functions, channels, unserializable structures) are
// rejected with a TypeNotAllowedError rather than silently coerced.
func Coerce(kind TypeKind, value any) (TypedValue, error) {
	if !kind.Valid() {
		return TypedValue{}, fmt.Errorf("unknown type kind: %q", kind)
	}
	if value == nil {
		return Null(kind), nil
	}
	if err := checkStorable(value); err != nil {
		return TypedValue{}, err
	}

	switch kind {
	case TypeString:
		return coerceString(value)
	case TypeInteger:
		return coerceInteger(value)
	case TypeDecimal:
		return coerceDecimal(value)
	case TypeBoolean:
		return coerceBoolean(value)
	case TypeDate, TypeDateTime:
		return coerceTime(kind, value)
	case TypeJSON:
		return coerceJSON(value)
	}
	return TypedValue{}, fmt.Errorf("unknown type kind: %q", kind)
}

// checkStorable rejects host values that can never be persisted, regardless
// of the declared kind.
func checkStorable(value any) error {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128:
		return NewTypeNotAllowedError(fmt.Sprintf("%T", value))
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return checkStorable(rv.Elem().Interface())
	}
	return nil
}

func coerceString(value any) (TypedValue, error) {
	switch v := value.(type) {
	case string:
		return String(v), nil
	case *string:
		if v == nil {
			return Null(TypeString), nil
		}
		return String(*v), nil
	case []byte:
		return String(string(v)), nil
	case fmt.Stringer:
		return String(v.String()), nil
	case bool:
		return String(strconv.FormatBool(v)), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return String(fmt.Sprintf("%d", v)), nil
	case float32:
		return String(strconv.FormatFloat(float64(v), 'f', -1, 32)), nil
	case float64:
		return String(strconv.FormatFloat(v, 'f', -1, 64)), nil
	}
	return TypedValue{}, NewTypeNotAllowedError(fmt.Sprintf("%T", value))
}

func coerceInteger(value any) (TypedValue, error) {
	switch v := value.(type) {
	case int:
		return Integer(int64(v)), nil
	case int8:
		return Integer(int64(v)), nil
	case int16:
		return Integer(int64(v)), nil
	case int32:
		return Integer(int64(v)), nil
	case int64:
		return Integer(v), nil
	case uint:
		return Integer(int64(v)), nil
	case uint8:
		return Integer(int64(v)), nil
	case uint16:
		return Integer(int64(v)), nil
	case uint32:
		return Integer(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return TypedValue{}, fmt.Errorf("integer overflow: %d", v)
		}
		return Integer(int64(v)), nil
	case float64:
		if v != math.Trunc(v) {
			return TypedValue{}, fmt.Errorf("cannot coerce fractional %v to integer", v)
		}
		return Integer(int64(v)), nil
	case float32:
		return coerceInteger(float64(v))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return TypedValue{}, fmt.Errorf("cannot coerce %q to integer: %w", v, err)
		}
		return Integer(i), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return TypedValue{}, fmt.Errorf("cannot coerce %q to integer: %w", v, err)
		}
		return Integer(i), nil
	}
	return TypedValue{}, NewTypeNotAllowedError(fmt.Sprintf("%T", value))
}

func coerceDecimal(value any) (TypedValue, error) {
	switch v := value.(type) {
	case float64:
		return Decimal(v), nil
	case float32:
		return Decimal(float64(v)), nil
	case int:
		return Decimal(float64(v)), nil
	case int16:
		return Decimal(float64(v)), nil
	case int32:
		return Decimal(float64(v)), nil
	case int64:
		return Decimal(float64(v)), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return TypedValue{}, fmt.Errorf("cannot coerce %q to decimal: %w", v, err)
		}
		return Decimal(f), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return TypedValue{}, fmt.Errorf("cannot coerce %q to decimal: %w", v, err)
		}
		return Decimal(f), nil
	}
	return TypedValue{}, NewTypeNotAllowedError(fmt.Sprintf("%T", value))
}

func coerceBoolean(value any) (TypedValue, error) {
	switch v := value.(type) {
	case bool:
		return Boolean(v), nil
	case *bool:
		if v == nil {
			return Null(TypeBoolean), nil
		}
		return Boolean(*v), nil
	case string:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			return TypedValue{}, fmt.Errorf("cannot coerce %q to boolean: %w", v, err)
		}
		return Boolean(b), nil
	case int:
		return Boolean(v != 0), nil
	case int64:
		return Boolean(v != 0), nil
	case float64:
		return Boolean(v != 0), nil
	}
	return TypedValue{}, NewTypeNotAllowedError(fmt.Sprintf("%T", value))
}

func coerceTime(kind TypeKind, value any) (TypedValue, error) {
	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return Null(kind), nil
		}
		t = *v
	case string:
		parsed, err := parseTimeString(v)
		if err != nil {
			return TypedValue{}, err
		}
		t = parsed
	case int64:
		t = time.UnixMilli(v).UTC()
	case float64:
		t = time.UnixMilli(int64(v)).UTC()
	default:
		return TypedValue{}, NewTypeNotAllowedError(fmt.Sprintf("%T", value))
	}
	if kind == TypeDate {
		return Date(t), nil
	}
	return DateTime(t), nil
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as date/datetime", s)
}

func coerceJSON(value any) (TypedValue, error) {
	// Round-trip through the encoder so unserializable payloads are rejected
	// at write time and the stored representation is canonical.
	raw, err := json.Marshal(value)
	if err != nil {
		return TypedValue{}, NewTypeNotAllowedError(fmt.Sprintf("%T", value))
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return TypedValue{}, fmt.Errorf("decode json payload: %w", err)
	}
	return JSON(decoded), nil
}
