// ABOUTME: Kind coercion for resolved raw values
// ABOUTME: Turns document scalars into typed field values

package resolver

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opengeocube/metacat/pkg/metadata"
)

// ErrBadValue indicates a value that was present in the document but
// does not parse as the field's declared kind.
var ErrBadValue = errors.New("resolver: value does not match declared kind")

// Value is one coerced scalar. The owning FieldValue's kind decides
// which slot is meaningful; Raw always holds the document value as found.
type Value struct {
	Raw  interface{}
	Str  string    // string kind
	Num  float64   // double kinds
	Time time.Time // datetime kinds
}

// FieldError reports a coercion failure with enough context to trace it
// back to the document path that produced the bad value.
type FieldError struct {
	Field  string
	Offset metadata.Offset
	Raw    interface{}
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q at %s: %v (raw %v)", e.Field, e.Offset, e.Err, e.Raw)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Accepted timestamp layouts, tried in order. Dataset documents in the
// wild carry everything from full RFC3339 down to bare dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerce(kind metadata.Kind, raw interface{}, field string, off metadata.Offset) (*Value, error) {
	badValue := func(err error) error {
		return &FieldError{Field: field, Offset: off, Raw: raw, Err: err}
	}

	switch kind {
	case metadata.KindString:
		s, err := stringify(raw)
		if err != nil {
			return nil, badValue(err)
		}
		return &Value{Raw: raw, Str: s}, nil

	case metadata.KindDouble, metadata.KindDoubleRange:
		n, err := toFloat(raw)
		if err != nil {
			return nil, badValue(err)
		}
		return &Value{Raw: raw, Num: n}, nil

	case metadata.KindDatetimeRange:
		t, err := toTime(raw)
		if err != nil {
			return nil, badValue(err)
		}
		return &Value{Raw: raw, Time: t}, nil
	}

	return nil, badValue(fmt.Errorf("%w: unsupported kind %q", ErrBadValue, kind))
}

func stringify(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("%w: %T is not a scalar", ErrBadValue, raw)
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrBadValue, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %T is not numeric", ErrBadValue, raw)
}

func toTime(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q is not a timestamp", ErrBadValue, v)
	}
	return time.Time{}, fmt.Errorf("%w: %T is not a timestamp", ErrBadValue, raw)
}
