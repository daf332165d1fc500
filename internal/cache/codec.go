package cache

import (
	"encoding/json"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
)

// cell keeps the Go type of a value through JSON. An empty cell is nil.
type cell struct {
	S *string    `json:"s,omitempty"`
	I *int64     `json:"i,omitempty"`
	F *float64   `json:"f,omitempty"`
	B *bool      `json:"b,omitempty"`
	T *time.Time `json:"t,omitempty"`
}

func encodeRow(row engine.Row) (string, error) {
	cells := make(map[string]cell, len(row))
	for k, v := range row {
		var c cell
		switch val := v.(type) {
		case nil:
		case string:
			c.S = &val
		case int64:
			c.I = &val
		case int:
			n := int64(val)
			c.I = &n
		case float64:
			c.F = &val
		case bool:
			c.B = &val
		case time.Time:
			c.T = &val
		default:
			s := engine.FormatCell(val, nil)
			c.S = &s
		}
		cells[k] = c
	}

	data, err := json.Marshal(cells)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRow(data string) (engine.Row, error) {
	var cells map[string]cell
	if err := json.Unmarshal([]byte(data), &cells); err != nil {
		return nil, err
	}

	row := make(engine.Row, len(cells))
	for k, c := range cells {
		switch {
		case c.S != nil:
			row[k] = *c.S
		case c.I != nil:
			row[k] = *c.I
		case c.F != nil:
			row[k] = *c.F
		case c.B != nil:
			row[k] = *c.B
		case c.T != nil:
			row[k] = *c.T
		default:
			row[k] = nil
		}
	}
	return row, nil
}
