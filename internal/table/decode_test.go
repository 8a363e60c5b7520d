package table

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged.part")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestJSONLinesFrame(t *testing.T) {
	path := writeFile(t, `{"x": 0.5, "y": -0.25, "label": "in"}
{"x": 1, "y": 2, "extra": true}

{"y": 3, "label": null}
`)

	tbl, err := JSONLines(FrameForm).Decode(path)
	require.NoError(t, err)

	rows, cols := tbl.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, []string{"x", "y", "label", "extra"}, tbl.ColumnNames())

	frame := tbl.(*Frame)
	x, ok := frame.Column("x")
	require.True(t, ok)
	assert.Equal(t, []any{0.5, 1.0, nil}, x)
	assert.Equal(t, []Type{TypeFloat, TypeFloat, TypeString, TypeBool}, frame.Types)
	assert.Nil(t, frame.Rows[0][3])
	assert.Equal(t, true, frame.Rows[1][3])
}

func TestJSONLinesColumns(t *testing.T) {
	path := writeFile(t, "{\"id\": 1, \"tags\": [1,2]}\n{\"id\": 2, \"tags\": {\"a\": 1}}\n")

	tbl, err := JSONLines(ColumnsForm).Decode(path)
	require.NoError(t, err)

	cols := tbl.(*Columns)
	id, ok := cols.Column("id")
	require.True(t, ok)
	assert.Equal(t, TypeInt, id.Type)
	assert.Equal(t, []any{int64(1), int64(2)}, id.Values)

	tags, ok := cols.Column("tags")
	require.True(t, ok)
	assert.Equal(t, TypeString, tags.Type)
	assert.Equal(t, []any{"[1,2]", `{"a": 1}`}, tags.Values)
}

func TestJSONLinesInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"truncated": "{\"a\": 1}\n{\"a\": ",
		"not object": "[1, 2]\n",
		"garbage":    "hello\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := JSONLines(FrameForm).Decode(writeFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestJSONLinesEmpty(t *testing.T) {
	tbl, err := JSONLines(FrameForm).Decode(writeFile(t, ""))
	require.NoError(t, err)
	rows, cols := tbl.Shape()
	assert.Zero(t, rows)
	assert.Zero(t, cols)
}

func TestCSVWithoutHeader(t *testing.T) {
	path := writeFile(t, "a,1,0.5\nb,2,\nc,3,1.5\n")

	tbl, err := CSV(ColumnsForm).Decode(path)
	require.NoError(t, err)

	rows, cols := tbl.Shape()
	assert.Equal(t, 3, rows, "first row is data")
	assert.Equal(t, 3, cols)
	assert.Equal(t, []string{"0", "1", "2"}, tbl.ColumnNames())

	c := tbl.(*Columns)
	assert.Equal(t, TypeString, c.Cols[0].Type)
	assert.Equal(t, TypeInt, c.Cols[1].Type)
	assert.Equal(t, TypeFloat, c.Cols[2].Type)
	assert.Equal(t, []any{0.5, nil, 1.5}, c.Cols[2].Values)
}

func TestCSVWithHeader(t *testing.T) {
	path := writeFile(t, "name;ok\nx;true\ny;false\n")

	tbl, err := CSV(FrameForm, WithHeader(), WithComma(';')).Decode(path)
	require.NoError(t, err)

	rows, cols := tbl.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []string{"name", "ok"}, tbl.ColumnNames())
	assert.Equal(t, []any{"x", true}, tbl.(*Frame).Rows[0])
}

func TestCSVRaggedRows(t *testing.T) {
	_, err := CSV(FrameForm).Decode(writeFile(t, "a,b\nc\n"))
	assert.Error(t, err)
}

func TestInferColumnMixed(t *testing.T) {
	col := inferColumn("m", []any{int64(1), "x", true})
	assert.Equal(t, TypeString, col.Type)
	assert.Equal(t, []any{"1", "x", "true"}, col.Values)

	col = inferColumn("n", []any{nil, nil})
	assert.Equal(t, TypeNull, col.Type)
}

func TestParseForm(t *testing.T) {
	f, err := ParseForm("arrow")
	require.NoError(t, err)
	assert.Equal(t, ColumnsForm, f)

	_, err = ParseForm("parquet")
	assert.Error(t, err)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "int64", TypeInt.String())
	assert.Equal(t, "string", TypeString.String())
	assert.Equal(t, "type(42)", Type(42).String())
}

func TestDecodeMissingFileIsPathError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.part")
	for _, dec := range []Decoder{JSONLines(FrameForm), CSV(ColumnsForm)} {
		_, err := dec.Decode(missing)
		var pathErr *fs.PathError
		assert.ErrorAs(t, err, &pathErr, dec.Name())
	}
}
