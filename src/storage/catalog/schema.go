package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/HeapDB/src/storage/tuple"
)

const pkAnnotation = "pk"

// TableDef is one parsed catalog line.
type TableDef struct {
	Name   string
	Schema *tuple.Schema
	PKey   string
}

// ParseSchemaLine parses `name (field type [pk], ...)`. Types are matched
// case-insensitively and at most one field may be marked pk.
func ParseSchemaLine(line string) (TableDef, error) {
	malformed := func(format string, args ...any) (TableDef, error) {
		return TableDef{}, fmt.Errorf(
			"%w: %q: %s",
			ErrMalformedCatalog,
			line,
			fmt.Sprintf(format, args...),
		)
	}

	open := strings.Index(line, "(")
	closing := strings.LastIndex(line, ")")
	if open < 0 || closing < open {
		return malformed("expected a parenthesized field list")
	}
	if rest := strings.TrimSpace(line[closing+1:]); rest != "" {
		return malformed("unexpected trailing text %q", rest)
	}

	name := strings.TrimSpace(line[:open])
	if name == "" || strings.ContainsAny(name, " \t") {
		return malformed("invalid table name %q", name)
	}

	def := TableDef{Name: name}
	columns := []tuple.Column{}
	seen := map[string]struct{}{}
	for _, rawField := range strings.Split(line[open+1:closing], ",") {
		parts := strings.Fields(rawField)
		if len(parts) < 2 || len(parts) > 3 {
			return malformed("invalid field %q", strings.TrimSpace(rawField))
		}

		fieldName := parts[0]
		if _, ok := seen[fieldName]; ok {
			return malformed("duplicate field %q", fieldName)
		}
		seen[fieldName] = struct{}{}

		typ, err := tuple.ParseType(parts[1])
		if err != nil {
			return malformed("%v", err)
		}

		if len(parts) == 3 {
			if parts[2] != pkAnnotation {
				return malformed("unknown annotation %q", parts[2])
			}
			if def.PKey != "" {
				return malformed("more than one primary key")
			}
			def.PKey = fieldName
		}

		columns = append(columns, tuple.Column{Name: fieldName, Type: typ})
	}

	def.Schema = tuple.NewSchema(columns...)
	return def, nil
}

// ParseSchema parses a whole catalog. Blank lines are skipped.
func ParseSchema(data []byte) ([]TableDef, error) {
	defs := []TableDef{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		def, err := ParseSchemaLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		defs = append(defs, def)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return defs, nil
}

// LoadSchema reads the catalog file at path and registers every table it
// describes, backing table `name` with dataDir/name.dat.
func (m *Manager) LoadSchema(path string, dataDir string) error {
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	defs, err := ParseSchema(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for _, def := range defs {
		if _, err := m.CreateTable(dataDir, def.Name, def.Schema, def.PKey); err != nil {
			return fmt.Errorf("failed to load table %s: %w", def.Name, err)
		}
		m.logger.Infow("loaded table", "name", def.Name, "schema", def.Schema.String(), "pkey", def.PKey)
	}
	return nil
}
