package tuple

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"
)

type Field interface {
	Type() Type
	// AppendTo appends the fixed-size encoding of the field to buf.
	AppendTo(buf []byte) []byte
	String() string
}

type IntField int32

func (f IntField) Type() Type { return IntType }

func (f IntField) AppendTo(buf []byte) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(f))
}

func (f IntField) String() string {
	return strconv.FormatInt(int64(f), 10)
}

type StringField string

func (f StringField) Type() Type { return StringType }

func (f StringField) AppendTo(buf []byte) []byte {
	s := []byte(f)
	if len(s) > StringLen {
		// never cut a multi-byte character in half
		n := StringLen
		for i := 0; i < utf8.UTFMax-1 && n > 0 && !utf8.RuneStart(s[n]); i++ {
			n--
		}
		s = s[:n]
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return append(buf, make([]byte, StringLen-len(s))...)
}

func (f StringField) String() string {
	return string(f)
}

// DecodeField reads one field of type t from the start of data.
func DecodeField(t Type, data []byte) (Field, error) {
	if len(data) < t.Len() {
		return nil, fmt.Errorf("not enough bytes to decode %s field: %d", t, len(data))
	}

	switch t {
	case IntType:
		return IntField(int32(binary.BigEndian.Uint32(data))), nil
	case StringType:
		n := binary.BigEndian.Uint32(data)
		if n > StringLen {
			return nil, fmt.Errorf("invalid string length %d", n)
		}
		payload := data[4 : 4+n]
		return StringField(bytes.Clone(payload)), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
}

// ParseField converts a textual value into a field of type t.
func ParseField(t Type, s string) (Field, error) {
	switch t {
	case IntType:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse int field %q: %w", s, err)
		}
		return IntField(v), nil
	case StringType:
		return StringField(s), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
}
