package table

import (
	"context"
	"encoding/json"
	"fmt"
)

// Snapshot is the persisted form of a Dataset. The JSON field names are kept
// stable so previously saved data stays readable.
type Snapshot struct {
	Columns  []string `json:"columns"`
	Data     [][]any  `json:"data"`
	FileName string   `json:"fileName"`
}

// Persister stores a single snapshot on the local device.
type Persister interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Delete(ctx context.Context) error
}

// EncodeSnapshot serializes a snapshot as JSON.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses and validates a persisted snapshot. Numbers decode
// as float64, matching what the page stored originally.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var raw struct {
		Columns  []string          `json:"columns"`
		Data     []json.RawMessage `json:"data"`
		FileName string            `json:"fileName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("malformed snapshot: %w", err)
	}
	if len(raw.Columns) == 0 {
		return Snapshot{}, fmt.Errorf("malformed snapshot: no columns")
	}
	s := Snapshot{Columns: raw.Columns, FileName: raw.FileName, Data: make([][]any, 0, len(raw.Data))}
	for i, r := range raw.Data {
		var row []any
		if err := json.Unmarshal(r, &row); err != nil {
			return Snapshot{}, fmt.Errorf("malformed snapshot: row %d: %w", i, err)
		}
		s.Data = append(s.Data, row)
	}
	return s, nil
}
