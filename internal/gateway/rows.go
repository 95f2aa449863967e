package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

func readRows(path string) ([]Row, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeRows(raw)
}

// DecodeRows parses an export document. Three shapes are accepted:
// {"data": [...]}, a bare array of objects, and a two-dimensional array whose
// first row holds the column headers.
func DecodeRows(raw []byte) ([]Row, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty export document")
	}

	switch raw[0] {
	case '{':
		var doc struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode export: %w", err)
		}
		data := bytes.TrimSpace(doc.Data)
		if len(data) == 0 || data[0] != '[' {
			return nil, errors.New("export document has no data array")
		}
		return decodeArray(data)
	case '[':
		return decodeArray(raw)
	default:
		return nil, fmt.Errorf("unexpected export document starting with %q", raw[0])
	}
}

func decodeArray(raw []byte) ([]Row, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode export rows: %w", err)
	}
	if len(items) == 0 {
		return []Row{}, nil
	}
	if first := bytes.TrimSpace(items[0]); len(first) > 0 && first[0] == '[' {
		return decodeTable(items)
	}

	rows := make([]Row, 0, len(items))
	for i, item := range items {
		var row Row
		if err := json.Unmarshal(item, &row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if row == nil {
			return nil, fmt.Errorf("row %d: not an object", i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeTable turns a header row plus value rows into records. Short rows
// leave the missing columns nil; extra cells are dropped.
func decodeTable(items []json.RawMessage) ([]Row, error) {
	var header []any
	if err := json.Unmarshal(items[0], &header); err != nil {
		return nil, fmt.Errorf("header row: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = fmt.Sprint(h)
	}

	rows := make([]Row, 0, len(items)-1)
	for i, item := range items[1:] {
		var cells []any
		if err := json.Unmarshal(item, &cells); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		row := make(Row, len(columns))
		for c, name := range columns {
			if c < len(cells) {
				row[name] = cells[c]
			} else {
				row[name] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
