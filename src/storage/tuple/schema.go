package tuple

import (
	"fmt"
	"slices"
	"strings"
)

type Column struct {
	Name string
	Type Type
}

// Schema describes the fields of every tuple stored in one table.
type Schema struct {
	columns []Column
}

func NewSchema(columns ...Column) *Schema {
	return &Schema{columns: slices.Clone(columns)}
}

func (s *Schema) NumFields() int {
	return len(s.columns)
}

func (s *Schema) Column(i int) (Column, error) {
	if i < 0 || i >= len(s.columns) {
		return Column{}, fmt.Errorf("%w: %d", ErrFieldOutOfRange, i)
	}
	return s.columns[i], nil
}

func (s *Schema) Columns() []Column {
	return slices.Clone(s.columns)
}

// IndexOf returns the position of the field called name.
func (s *Schema) IndexOf(name string) (int, error) {
	for i, c := range s.columns {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNoSuchField, name)
}

// Size is the encoded size of one record in bytes.
func (s *Schema) Size() int {
	size := 0
	for _, c := range s.columns {
		size += c.Type.Len()
	}
	return size
}

func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	return slices.Equal(s.columns, other.columns)
}

// Combine returns a schema holding the fields of s followed by those of other.
func Combine(s, other *Schema) *Schema {
	return &Schema{columns: slices.Concat(s.columns, other.columns)}
}

func (s *Schema) String() string {
	parts := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		parts = append(parts, fmt.Sprintf("%s(%s)", c.Type, c.Name))
	}
	return strings.Join(parts, ", ")
}
