package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Decoder materialises a sealed staging file into a Table. Failures to open
// or read path come back as *fs.PathError; anything else is a content error.
type Decoder interface {
	Name() string
	Decode(path string) (Table, error)
}

// JSONLinesDecoder reads one JSON object per line.
type JSONLinesDecoder struct {
	Form Form
}

// JSONLines returns a decoder for newline-delimited JSON records.
func JSONLines(form Form) *JSONLinesDecoder {
	return &JSONLinesDecoder{Form: form}
}

func (d *JSONLinesDecoder) Name() string { return "json-lines/" + d.Form.String() }

// Decode reads path line by line. Blank lines are skipped; every other line
// must hold a JSON object. Columns are the union of keys in first-seen order.
func (d *JSONLinesDecoder) Decode(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		names   []string
		index   = map[string]int{}
		records []map[int]any
	)

	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, readErr
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if !gjson.ValidBytes(line) {
				return nil, fmt.Errorf("line %d: invalid JSON", lineNo)
			}
			doc := gjson.ParseBytes(line)
			if !doc.IsObject() {
				return nil, fmt.Errorf("line %d: expected a JSON object, got %s", lineNo, doc.Type)
			}

			record := make(map[int]any)
			doc.ForEach(func(key, value gjson.Result) bool {
				idx, ok := index[key.String()]
				if !ok {
					idx = len(names)
					index[key.String()] = idx
					names = append(names, key.String())
				}
				record[idx] = jsonValue(value)
				return true
			})
			records = append(records, record)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	rows := make([][]any, len(records))
	for i, record := range records {
		row := make([]any, len(names))
		for idx, v := range record {
			row[idx] = v
		}
		rows[i] = row
	}
	return build(d.Form, names, rows), nil
}

func jsonValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.String:
		return v.String()
	case gjson.Number:
		if !strings.ContainsAny(v.Raw, ".eE") {
			if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
				return n
			}
		}
		return v.Float()
	default:
		// nested objects and arrays keep their JSON text
		return v.Raw
	}
}

// CSVOption customises a CSV decoder.
type CSVOption func(*CSVDecoder)

// WithHeader treats the first row as column names.
func WithHeader() CSVOption {
	return func(d *CSVDecoder) { d.Header = true }
}

// WithComma sets the field delimiter.
func WithComma(r rune) CSVOption {
	return func(d *CSVDecoder) { d.Comma = r }
}

// CSVDecoder reads comma separated records. By default the first row is data
// and columns are named by position ("0", "1", ...).
type CSVDecoder struct {
	Form   Form
	Header bool
	Comma  rune
}

func CSV(form Form, opts ...CSVOption) *CSVDecoder {
	d := &CSVDecoder{Form: form, Comma: ','}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CSVDecoder) Name() string {
	if d.Header {
		return "csv+header/" + d.Form.String()
	}
	return "csv/" + d.Form.String()
}

func (d *CSVDecoder) Decode(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	reader.Comma = d.Comma

	var (
		names []string
		rows  [][]any
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if names == nil {
			if d.Header {
				names = append([]string(nil), record...)
				continue
			}
			names = make([]string, len(record))
			for i := range record {
				names[i] = strconv.Itoa(i)
			}
		}

		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = scalar(cell)
		}
		rows = append(rows, row)
	}

	return build(d.Form, names, rows), nil
}
