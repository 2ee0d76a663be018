package scalar

import "fmt"

// Kind identifies a scalar type. The numeric order of kinds is the rank
// used by Compare for values of different kinds: invalid values first,
// then valid values, then Clear.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindDate
	KindTime
	KindString
	KindClear
)

var kindNames = [...]string{
	KindNone:    "none",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUint8:   "uint8",
	KindUint16:  "uint16",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindBool:    "bool",
	KindDate:    "date",
	KindTime:    "time",
	KindString:  "string",
	KindClear:   "clear",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind resolves a column type name. Only storable kinds are accepted;
// "none" and "clear" are cell states, not column types.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindNone && Kind(k) != KindClear {
			return Kind(k), nil
		}
	}
	// Common aliases used in schema files.
	switch name {
	case "int", "integer":
		return KindInt64, nil
	case "float", "double":
		return KindFloat64, nil
	case "str":
		return KindString, nil
	case "datetime":
		return KindTime, nil
	case "boolean":
		return KindBool, nil
	}
	return KindNone, fmt.Errorf("unknown column type %q", name)
}
