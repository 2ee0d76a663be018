package scalar

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Scalar is a sealed interface over the supported cell types.
// Only the types declared in this file implement it.
type Scalar interface {
	scalar() // Sealed
}

// None is the invalid (null) value. Missing row data is always None.
type None struct{}

// Clear marks a cell that an update explicitly unsets.
type Clear struct{}

type (
	Int8    int8
	Int16   int16
	Int32   int32
	Int64   int64
	Uint8   uint8
	Uint16  uint16
	Uint32  uint32
	Uint64  uint64
	Float32 float32
	Float64 float64
	Bool    bool
	// Date packs a calendar date as year<<16 | month<<8 | day so that the
	// packed integer orders the same way the date does.
	Date uint32
	// Time is milliseconds since the Unix epoch, UTC.
	Time int64
	// String values should be built with NewString so that equality is
	// decided on the NFC form.
	String string
)

func (None) scalar()    {}
func (Clear) scalar()   {}
func (Int8) scalar()    {}
func (Int16) scalar()   {}
func (Int32) scalar()   {}
func (Int64) scalar()   {}
func (Uint8) scalar()   {}
func (Uint16) scalar()  {}
func (Uint32) scalar()  {}
func (Uint64) scalar()  {}
func (Float32) scalar() {}
func (Float64) scalar() {}
func (Bool) scalar()    {}
func (Date) scalar()    {}
func (Time) scalar()    {}
func (String) scalar()  {}

// NewString returns the NFC-normalized string scalar.
func NewString(s string) String {
	return String(norm.NFC.String(s))
}

// NewDate packs a calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date(uint32(year)<<16 | uint32(month)<<8 | uint32(day))
}

// Year returns the year component.
func (d Date) Year() int { return int(d >> 16) }

// Month returns the month component.
func (d Date) Month() time.Month { return time.Month((d >> 8) & 0xff) }

// Day returns the day-of-month component.
func (d Date) Day() int { return int(d & 0xff) }

// NewTime converts a wall-clock time to a Time scalar (millisecond precision).
func NewTime(t time.Time) Time {
	return Time(t.UnixMilli())
}

// KindOf returns the kind of s. A nil Scalar is reported as KindNone.
func KindOf(s Scalar) Kind {
	switch s.(type) {
	case nil, None:
		return KindNone
	case Clear:
		return KindClear
	case Int8:
		return KindInt8
	case Int16:
		return KindInt16
	case Int32:
		return KindInt32
	case Int64:
		return KindInt64
	case Uint8:
		return KindUint8
	case Uint16:
		return KindUint16
	case Uint32:
		return KindUint32
	case Uint64:
		return KindUint64
	case Float32:
		return KindFloat32
	case Float64:
		return KindFloat64
	case Bool:
		return KindBool
	case Date:
		return KindDate
	case Time:
		return KindTime
	case String:
		return KindString
	default:
		panic(fmt.Sprintf("scalar: unknown scalar type %T", s))
	}
}

// IsValid reports whether s carries a value (neither None nor Clear).
func IsValid(s Scalar) bool {
	k := KindOf(s)
	return k != KindNone && k != KindClear
}

// IsFloat reports whether s is a floating point scalar.
func IsFloat(s Scalar) bool {
	k := KindOf(s)
	return k == KindFloat32 || k == KindFloat64
}

// IsNaN reports whether s is a floating point not-a-number.
func IsNaN(s Scalar) bool {
	switch v := s.(type) {
	case Float32:
		return math.IsNaN(float64(v))
	case Float64:
		return math.IsNaN(float64(v))
	}
	return false
}

// Equal is strict scalar equality: kinds must match and NaN is never equal
// to anything, itself included. None equals None and Clear equals Clear.
func Equal(a, b Scalar) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch x := a.(type) {
	case nil, None, Clear:
		return true
	case Float32:
		return float32(x) == float32(b.(Float32))
	case Float64:
		return float64(x) == float64(b.(Float64))
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Bool, Date, Time, String:
		return a == b
	default:
		panic(fmt.Sprintf("scalar: unknown scalar type %T", a))
	}
}

// Compare is a total order over all scalars. Values of different kinds
// order by kind rank; NaN orders below every other float and equal to NaN.
func Compare(a, b Scalar) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return cmp.Compare(ka, kb)
	}
	switch x := a.(type) {
	case nil, None, Clear:
		return 0
	case Int8:
		return cmp.Compare(x, b.(Int8))
	case Int16:
		return cmp.Compare(x, b.(Int16))
	case Int32:
		return cmp.Compare(x, b.(Int32))
	case Int64:
		return cmp.Compare(x, b.(Int64))
	case Uint8:
		return cmp.Compare(x, b.(Uint8))
	case Uint16:
		return cmp.Compare(x, b.(Uint16))
	case Uint32:
		return cmp.Compare(x, b.(Uint32))
	case Uint64:
		return cmp.Compare(x, b.(Uint64))
	case Float32:
		return cmp.Compare(x, b.(Float32))
	case Float64:
		return cmp.Compare(x, b.(Float64))
	case Bool:
		y := b.(Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		default:
			return 1
		}
	case Date:
		return cmp.Compare(x, b.(Date))
	case Time:
		return cmp.Compare(x, b.(Time))
	case String:
		return cmp.Compare(x, b.(String))
	default:
		panic(fmt.Sprintf("scalar: unknown scalar type %T", a))
	}
}

// Abs returns the absolute value of a signed numeric scalar. Other kinds
// are returned unchanged. The minimum value of a signed integer kind has no
// positive counterpart and is returned as is.
func Abs(s Scalar) Scalar {
	switch v := s.(type) {
	case Int8:
		if v < 0 && v != math.MinInt8 {
			return -v
		}
	case Int16:
		if v < 0 && v != math.MinInt16 {
			return -v
		}
	case Int32:
		if v < 0 && v != math.MinInt32 {
			return -v
		}
	case Int64:
		if v < 0 && v != math.MinInt64 {
			return -v
		}
	case Float32:
		return Float32(math.Abs(float64(v)))
	case Float64:
		return Float64(math.Abs(float64(v)))
	}
	return s
}

// ToFloat64 converts a numeric scalar to float64. ok is false for
// non-numeric or invalid scalars.
func ToFloat64(s Scalar) (f float64, ok bool) {
	switch v := s.(type) {
	case Int8:
		return float64(v), true
	case Int16:
		return float64(v), true
	case Int32:
		return float64(v), true
	case Int64:
		return float64(v), true
	case Uint8:
		return float64(v), true
	case Uint16:
		return float64(v), true
	case Uint32:
		return float64(v), true
	case Uint64:
		return float64(v), true
	case Float32:
		return float64(v), true
	case Float64:
		return float64(v), true
	}
	return 0, false
}

// Format renders s for traces and CLI output.
func Format(s Scalar) string {
	switch v := s.(type) {
	case nil, None:
		return "none"
	case Clear:
		return "clear"
	case Int8:
		return strconv.FormatInt(int64(v), 10)
	case Int16:
		return strconv.FormatInt(int64(v), 10)
	case Int32:
		return strconv.FormatInt(int64(v), 10)
	case Int64:
		return strconv.FormatInt(int64(v), 10)
	case Uint8:
		return strconv.FormatUint(uint64(v), 10)
	case Uint16:
		return strconv.FormatUint(uint64(v), 10)
	case Uint32:
		return strconv.FormatUint(uint64(v), 10)
	case Uint64:
		return strconv.FormatUint(uint64(v), 10)
	case Float32:
		return formatFloat(float64(v), 32)
	case Float64:
		return formatFloat(float64(v), 64)
	case Bool:
		return strconv.FormatBool(bool(v))
	case Date:
		return fmt.Sprintf("%04d-%02d-%02d", v.Year(), int(v.Month()), v.Day())
	case Time:
		return time.UnixMilli(int64(v)).UTC().Format("2006-01-02T15:04:05.000Z")
	case String:
		return strconv.Quote(string(v))
	default:
		panic(fmt.Sprintf("scalar: unknown scalar type %T", s))
	}
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
