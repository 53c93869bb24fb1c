package parser

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// --- Format detection tests ---

func TestDetectFormat_ExtensionOrMime(t *testing.T) {
	cases := []struct {
		name, mime string
		want       Format
	}{
		{"estoque.xlsx", "", FormatXLSX},
		{"ESTOQUE.XLS", "", FormatXLS},
		{"dados.csv", "application/octet-stream", FormatCSV},
		{"blob", "text/csv; charset=utf-8", FormatCSV},
		{"blob", "application/vnd.ms-excel", FormatXLS},
		{"relatorio.xlsx", "application/vnd.ms-excel", FormatXLSX},
	}
	for _, c := range cases {
		got, err := DetectFormat(c.name, c.mime)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, got, c.name)
	}
}

func TestDetectFormat_Rejects(t *testing.T) {
	for _, name := range []string{"notas.txt", "foto.png", "", "planilha.ods"} {
		_, err := DetectFormat(name, "text/plain")
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
		assert.False(t, IsSupported(name, ""))
	}
	assert.True(t, IsSupported("x.csv", ""))
}

// --- Delimited text tests ---

func TestParse_CSV(t *testing.T) {
	data := []byte("Material , Texto breve material,Depósito\n100,Parafuso,D01\n\n200,\"Porca, M8\",\n")
	tbl, err := Parse(data, "estoque.csv", "text/csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, tbl.Format)
	assert.Equal(t, []string{"Material", "Texto breve material", "Depósito"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []any{"200", "Porca, M8", nil}, tbl.Rows[1])
}

func TestParse_CSVSemicolonAndBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Material;Descrição\n100;Arruela\n")...)
	tbl, err := Parse(data, "x.csv", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Material", "Descrição"}, tbl.Columns)
	assert.Equal(t, []any{"100", "Arruela"}, tbl.Rows[0])
}

func TestParse_CSVWindows1252(t *testing.T) {
	// "Descrição" with ç=0xE7 and ã=0xE3 in Windows-1252.
	data := []byte("Material;Descri\xe7\xe3o\n1;Pe\xe7a\n")
	tbl, err := Parse(data, "x.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "Descrição", tbl.Columns[1])
	assert.Equal(t, "Peça", tbl.Rows[0][1])
}

func TestParse_TooSmall(t *testing.T) {
	for _, data := range []string{"", "Material,Texto\n", "Material\n\n\n"} {
		_, err := Parse([]byte(data), "x.csv", "")
		assert.ErrorIs(t, err, ErrTooSmall, "%q", data)
	}
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ',', sniffDelimiter("a,b,c\n1;2"))
	assert.Equal(t, ';', sniffDelimiter("a;b;c"))
	assert.Equal(t, '\t', sniffDelimiter("a\tb\tc,d"))
	assert.Equal(t, '|', sniffDelimiter("a|b"))
	assert.Equal(t, ',', sniffDelimiter(`"x;y;z",b`))
}

// --- Legacy .xls tests ---

func TestParse_XLSThatIsReallyText(t *testing.T) {
	data := []byte("Material\tTexto breve material\n100\tParafuso\n")
	tbl, err := Parse(data, "export_sap.xls", "application/vnd.ms-excel")
	require.NoError(t, err)
	assert.Equal(t, FormatXLS, tbl.Format)
	assert.Equal(t, []string{"Material", "Texto breve material"}, tbl.Columns)
	assert.Equal(t, []any{"100", "Parafuso"}, tbl.Rows[0])
}

func TestParse_XLSThatIsHTML(t *testing.T) {
	_, err := Parse([]byte("<html><table></table></html>"), "relatorio.xls", "")
	assert.ErrorIs(t, err, ErrParse)
}

func TestParse_CorruptCompoundFile(t *testing.T) {
	data := append(append([]byte{}, ole2Magic...), bytes.Repeat([]byte{0}, 64)...)
	_, err := Parse(data, "x.xls", "")
	assert.ErrorIs(t, err, ErrParse)
}

// --- .xlsx tests ---

func TestParse_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Material", "Texto breve material", "Depósito"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"100", "Parafuso", "D01"}))
	require.NoError(t, f.SetCellValue("Sheet1", "A3", "200"))
	require.NoError(t, f.SetCellValue("Sheet1", "C3", "D02"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	// Extension is ignored when the content is a zip container.
	tbl, err := Parse(buf.Bytes(), "estoque.csv", "")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, tbl.Format)
	assert.Equal(t, "Sheet1", tbl.Sheet)
	assert.Equal(t, []string{"Material", "Texto breve material", "Depósito"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Parafuso", tbl.Rows[0][1])
	require.Len(t, tbl.Rows[1], 3)
	assert.Equal(t, "200", tbl.Rows[1][0])
	assert.Nil(t, tbl.Rows[1][1])
	assert.Equal(t, "D02", tbl.Rows[1][2])
}

func TestParse_XLSXCorrupt(t *testing.T) {
	_, err := Parse([]byte("PK\x03\x04garbage"), "x.xlsx", "")
	assert.ErrorIs(t, err, ErrParse)
}

// --- JSON records tests ---

func TestParseRecords_KeepsKeyOrder(t *testing.T) {
	data := []byte(`[
		{"Material": "100", "Texto breve material": "Parafuso", "Qtd": 3},
		{"Texto breve material": "Porca", "Material": "200", "Extra": true},
		{"Material": 300}
	]`)
	tbl, err := ParseRecords(data)
	require.NoError(t, err)
	assert.Equal(t, FormatRecords, tbl.Format)
	assert.Equal(t, []string{"Material", "Texto breve material", "Qtd"}, tbl.Columns)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, []any{"100", "Parafuso", int64(3)}, tbl.Rows[0])
	assert.Equal(t, []any{"200", "Porca", nil}, tbl.Rows[1])
	assert.Equal(t, []any{int64(300), nil, nil}, tbl.Rows[2])
}

func TestParseRecords_Errors(t *testing.T) {
	_, err := ParseRecords([]byte(`[]`))
	assert.ErrorIs(t, err, ErrTooSmall)
	_, err = ParseRecords([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, ErrParse)
	_, err = ParseRecords([]byte(`[{"a":1},`))
	assert.ErrorIs(t, err, ErrParse)
	_, err = ParseRecords([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrParse)
}
