package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseRecords reads a JSON array of objects. Columns follow the key order of
// the first object; later objects are read by name, so missing keys become
// empty cells and extra keys are ignored.
func ParseRecords(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	var columns []string
	var rows [][]any
	for dec.More() {
		keys, values, err := readObject(dec)
		if err != nil {
			return nil, err
		}
		if columns == nil {
			columns = keys
		}
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = values[c]
		}
		rows = append(rows, row)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrTooSmall
	}
	return &Table{Columns: columns, Rows: rows, Format: FormatRecords}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: records: %w", ErrParse, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: records: expected %q, got %v", ErrParse, want, tok)
	}
	return nil
}

// readObject consumes one JSON object, keeping the order its keys appear in.
func readObject(dec *json.Decoder) ([]string, map[string]any, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}
	var keys []string
	values := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: records: %w", ErrParse, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: records: object key %v", ErrParse, tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, nil, fmt.Errorf("%w: records: %w", ErrParse, err)
		}
		if n, ok := v.(json.Number); ok {
			v = numberValue(n)
		}
		if _, seen := values[key]; !seen {
			keys = append(keys, key)
		}
		values[key] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

// numberValue keeps integers exact and falls back to float64.
func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
