package scalar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ClearToken is the literal that scenario and batch files use to request
// an explicit Clear for a cell.
const ClearToken = "<clear>"

// FromAny converts a value decoded from YAML or JSON into a scalar of the
// given kind. nil becomes None and ClearToken becomes Clear for every kind.
func FromAny(kind Kind, v any) (Scalar, error) {
	if v == nil {
		return None{}, nil
	}
	if s, ok := v.(string); ok && s == ClearToken {
		return Clear{}, nil
	}

	switch kind {
	case KindInt8:
		n, err := toInt(v, math.MinInt8, math.MaxInt8)
		return Int8(n), err
	case KindInt16:
		n, err := toInt(v, math.MinInt16, math.MaxInt16)
		return Int16(n), err
	case KindInt32:
		n, err := toInt(v, math.MinInt32, math.MaxInt32)
		return Int32(n), err
	case KindInt64:
		n, err := toInt(v, math.MinInt64, math.MaxInt64)
		return Int64(n), err
	case KindUint8:
		n, err := toUint(v, math.MaxUint8)
		return Uint8(n), err
	case KindUint16:
		n, err := toUint(v, math.MaxUint16)
		return Uint16(n), err
	case KindUint32:
		n, err := toUint(v, math.MaxUint32)
		return Uint32(n), err
	case KindUint64:
		n, err := toUint(v, math.MaxUint64)
		return Uint64(n), err
	case KindFloat32:
		f, err := toFloat(v)
		return Float32(f), err
	case KindFloat64:
		f, err := toFloat(v)
		return Float64(f), err
	case KindBool:
		switch b := v.(type) {
		case bool:
			return Bool(b), nil
		case string:
			pb, err := strconv.ParseBool(b)
			if err != nil {
				return None{}, fmt.Errorf("bool: %w", err)
			}
			return Bool(pb), nil
		}
		return None{}, fmt.Errorf("cannot convert %T to bool", v)
	case KindDate:
		switch d := v.(type) {
		case time.Time:
			return NewDate(d.Year(), d.Month(), d.Day()), nil
		case string:
			t, err := time.Parse("2006-01-02", d)
			if err != nil {
				return None{}, fmt.Errorf("date: %w", err)
			}
			return NewDate(t.Year(), t.Month(), t.Day()), nil
		}
		return None{}, fmt.Errorf("cannot convert %T to date", v)
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return NewTime(t), nil
		case string:
			pt, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return None{}, fmt.Errorf("time: %w", err)
			}
			return NewTime(pt), nil
		}
		n, err := toInt(v, math.MinInt64, math.MaxInt64)
		return Time(n), err
	case KindString:
		switch s := v.(type) {
		case string:
			return NewString(s), nil
		case fmt.Stringer:
			return NewString(s.String()), nil
		}
		return NewString(fmt.Sprint(v)), nil
	default:
		return None{}, fmt.Errorf("cannot convert into kind %s", kind)
	}
}

func toInt(v any, lo, hi int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		n = int64(x)
	case string:
		p, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, err
		}
		n = p
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func toUint(v any, hi uint64) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint:
		n = uint64(x)
	case uint64:
		n = x
	case string:
		p, err := strconv.ParseUint(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, err
		}
		n = p
	default:
		i, err := toInt(v, 0, math.MaxInt64)
		if err != nil {
			return 0, err
		}
		n = uint64(i)
	}
	if n > hi {
		return 0, fmt.Errorf("%d out of range [0, %d]", n, hi)
	}
	return n, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		// ParseFloat accepts "NaN", "Inf" and "-Inf" in any case.
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}
