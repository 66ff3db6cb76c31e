package tuple

import (
	"fmt"
	"strings"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// Tuple is one row under a schema. RecordID is set while the tuple is
// stored on a page and nil otherwise.
type Tuple struct {
	schema   *Schema
	fields   []Field
	RecordID *common.RecordID
}

func New(schema *Schema) *Tuple {
	return &Tuple{
		schema: schema,
		fields: make([]Field, schema.NumFields()),
	}
}

// FromValues builds a tuple from already typed fields.
func FromValues(schema *Schema, fields ...Field) (*Tuple, error) {
	if len(fields) != schema.NumFields() {
		return nil, fmt.Errorf(
			"%w: expected %d fields, got %d",
			ErrSchemaMismatch,
			schema.NumFields(),
			len(fields),
		)
	}

	t := New(schema)
	for i, f := range fields {
		if err := t.SetField(i, f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Parse builds a tuple from textual values, one per schema field.
func Parse(schema *Schema, values []string) (*Tuple, error) {
	if len(values) != schema.NumFields() {
		return nil, fmt.Errorf(
			"%w: expected %d values, got %d",
			ErrSchemaMismatch,
			schema.NumFields(),
			len(values),
		)
	}

	t := New(schema)
	for i, v := range values {
		f, err := ParseField(schema.columns[i].Type, v)
		if err != nil {
			return nil, err
		}
		t.fields[i] = f
	}
	return t, nil
}

func (t *Tuple) Schema() *Schema {
	return t.schema
}

func (t *Tuple) SetField(i int, f Field) error {
	c, err := t.schema.Column(i)
	if err != nil {
		return err
	}
	if c.Type != f.Type() {
		return fmt.Errorf(
			"%w: field %d is %s, got %s",
			ErrSchemaMismatch,
			i,
			c.Type,
			f.Type(),
		)
	}

	t.fields[i] = f
	return nil
}

func (t *Tuple) Field(i int) (Field, error) {
	if i < 0 || i >= len(t.fields) {
		return nil, fmt.Errorf("%w: %d", ErrFieldOutOfRange, i)
	}
	return t.fields[i], nil
}

// Encode returns the fixed-size record of the tuple. Every field must be set.
func (t *Tuple) Encode() ([]byte, error) {
	buf := make([]byte, 0, t.schema.Size())
	for i, f := range t.fields {
		if f == nil {
			return nil, fmt.Errorf("%w: %d", ErrFieldNotSet, i)
		}
		buf = f.AppendTo(buf)
	}
	return buf, nil
}

// Decode parses a record produced by Encode.
func Decode(schema *Schema, data []byte) (*Tuple, error) {
	if len(data) < schema.Size() {
		return nil, fmt.Errorf(
			"record too short: expected %d bytes, got %d",
			schema.Size(),
			len(data),
		)
	}

	t := New(schema)
	offset := 0
	for i, c := range schema.columns {
		f, err := DecodeField(c.Type, data[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %d: %w", i, err)
		}
		t.fields[i] = f
		offset += c.Type.Len()
	}
	return t, nil
}

// Equal compares field values only; record ids are ignored.
func (t *Tuple) Equal(other *Tuple) bool {
	if !t.schema.Equal(other.schema) {
		return false
	}
	for i := range t.fields {
		if t.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		if f == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = f.String()
	}
	return strings.Join(parts, "\t")
}
