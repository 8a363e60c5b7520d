// Package table holds the two in-memory shapes staged objects are decoded
// into: a row-oriented Frame and a columnar Columns table.
package table

import (
	"fmt"
	"strconv"
	"strings"
)

// Table is the common view over decoded data.
type Table interface {
	// Shape returns (rows, columns).
	Shape() (int, int)
	ColumnNames() []string
}

// Form selects the in-memory layout a decoder produces.
type Form int

const (
	// FrameForm is a row-oriented table, one []any per record.
	FrameForm Form = iota
	// ColumnsForm is a columnar table with one typed column per field.
	ColumnsForm
)

func (f Form) String() string {
	switch f {
	case FrameForm:
		return "frame"
	case ColumnsForm:
		return "columns"
	default:
		return fmt.Sprintf("form(%d)", int(f))
	}
}

// ParseForm maps "frame" / "columns" to a Form.
func ParseForm(s string) (Form, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frame", "pandas", "rows":
		return FrameForm, nil
	case "columns", "arrow", "columnar":
		return ColumnsForm, nil
	default:
		return 0, fmt.Errorf("unknown table form %q", s)
	}
}

// Type is the inferred type of a column.
type Type int

const (
	TypeNull Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInt:
		return "int64"
	case TypeFloat:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Column is one typed column. Values holds int64, float64, bool, string or
// nil (missing) entries according to Type.
type Column struct {
	Name   string
	Type   Type
	Values []any
}

func (c Column) Len() int { return len(c.Values) }

// Frame is a row-oriented table.
type Frame struct {
	Columns []string
	Types   []Type
	Rows    [][]any
}

func (f *Frame) Shape() (int, int) { return len(f.Rows), len(f.Columns) }

func (f *Frame) ColumnNames() []string { return f.Columns }

// Column returns the values of the named column, or false if it is absent.
func (f *Frame) Column(name string) ([]any, bool) {
	idx := -1
	for i, c := range f.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Columns is a columnar table.
type Columns struct {
	Cols []Column
	rows int
}

func (c *Columns) Shape() (int, int) { return c.rows, len(c.Cols) }

func (c *Columns) ColumnNames() []string {
	names := make([]string, len(c.Cols))
	for i, col := range c.Cols {
		names[i] = col.Name
	}
	return names
}

// Column returns the named column, or false if it is absent.
func (c *Columns) Column(name string) (Column, bool) {
	for _, col := range c.Cols {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// build turns raw records into the requested form. Every row in rows has
// len(names) cells.
func build(form Form, names []string, rows [][]any) Table {
	cols := make([]Column, len(names))
	for j, name := range names {
		values := make([]any, len(rows))
		for i, row := range rows {
			values[i] = row[j]
		}
		cols[j] = inferColumn(name, values)
	}

	if form == ColumnsForm {
		return &Columns{Cols: cols, rows: len(rows)}
	}

	frame := &Frame{
		Columns: names,
		Types:   make([]Type, len(cols)),
		Rows:    make([][]any, len(rows)),
	}
	for j, col := range cols {
		frame.Types[j] = col.Type
	}
	for i := range rows {
		row := make([]any, len(cols))
		for j, col := range cols {
			row[j] = col.Values[i]
		}
		frame.Rows[i] = row
	}
	return frame
}

// inferColumn picks the narrowest type that holds every non-null value:
// int64, then float64, then bool, falling back to string.
func inferColumn(name string, raw []any) Column {
	values := make([]any, len(raw))
	copy(values, raw)

	typ := TypeNull
	for _, v := range values {
		typ = widen(typ, v)
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		switch typ {
		case TypeFloat:
			if n, ok := v.(int64); ok {
				values[i] = float64(n)
			}
		case TypeString:
			if _, ok := v.(string); !ok {
				values[i] = stringify(v)
			}
		}
	}
	return Column{Name: name, Type: typ, Values: values}
}

func widen(typ Type, v any) Type {
	var vt Type
	switch v.(type) {
	case nil:
		return typ
	case int64:
		vt = TypeInt
	case float64:
		vt = TypeFloat
	case bool:
		vt = TypeBool
	default:
		vt = TypeString
	}

	switch {
	case typ == TypeNull || typ == vt:
		return vt
	case (typ == TypeInt && vt == TypeFloat) || (typ == TypeFloat && vt == TypeInt):
		return TypeFloat
	default:
		return TypeString
	}
}

// scalar converts a CSV cell to a typed value. Empty cells are missing.
func scalar(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	return s
}

func stringify(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
