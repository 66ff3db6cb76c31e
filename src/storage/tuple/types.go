package tuple

import (
	"fmt"
	"strings"
)

// StringLen is the fixed payload length of a string field. Longer values are
// truncated on encoding.
const StringLen = 128

type Type uint8

const (
	IntType Type = iota
	StringType
)

// Len is the number of bytes a field of this type occupies in a record.
func (t Type) Len() int {
	switch t {
	case IntType:
		return 4
	case StringType:
		return 4 + StringLen
	default:
		panic(fmt.Sprintf("unknown field type %d", uint8(t)))
	}
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType parses a catalog type name. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int":
		return IntType, nil
	case "string":
		return StringType, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}
