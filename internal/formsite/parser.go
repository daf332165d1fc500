package formsite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
)

var childItemRe = regexp.MustCompile(`^\d+-\d+-\d+`)

// resultItem is one entry of a result's "items" array.
type resultItem struct {
	ID     string          `json:"id"`
	Value  json.RawMessage `json:"value"`
	Values []resultValue   `json:"values"`
}

type resultValue struct {
	Value    string `json:"value"`
	Position int    `json:"position"`
}

func (i resultItem) text() string {
	if len(i.Value) > 0 {
		var s string
		if err := json.Unmarshal(i.Value, &s); err == nil {
			return s
		}
		if string(i.Value) == "null" {
			return ""
		}
		return string(i.Value)
	}

	values := slices.Clone(i.Values)
	slices.SortStableFunc(values, func(a, b resultValue) int {
		return a.Position - b.Position
	})

	parts := make([]string, len(values))
	for j, v := range values {
		parts[j] = v.Value
	}
	return strings.Join(parts, " | ")
}

type resultItems struct {
	Items []resultItem `json:"items"`
}

// Parser turns raw result records into table rows, remembering the order in
// which item columns first appear.
type Parser struct {
	rows      []engine.Row
	itemOrder []string
	seen      map[string]struct{}
	metadata  map[string]struct{}
}

func NewParser() *Parser {
	return &Parser{
		seen:     make(map[string]struct{}),
		metadata: make(map[string]struct{}),
	}
}

// Feed parses one page of raw result records.
func (p *Parser) Feed(records []json.RawMessage) error {
	for i, raw := range records {
		row, err := p.parseRecord(raw)
		if err != nil {
			return fmt.Errorf("failed to parse result %d: %w", len(p.rows)+i+1, err)
		}
		p.rows = append(p.rows, row)
	}
	return nil
}

func (p *Parser) Len() int {
	return len(p.rows)
}

func (p *Parser) parseRecord(raw json.RawMessage) (engine.Row, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	row := make(engine.Row, len(fields))
	for _, m := range MetadataColumns {
		v, ok := fields[m.ID]
		if !ok {
			continue
		}
		val, err := metadataValue(m.ID, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", m.ID, err)
		}
		row[m.ID] = val
		p.metadata[m.ID] = struct{}{}
	}

	var items resultItems
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}

	for _, item := range items.Items {
		key := item.ID
		val := item.text()

		if childItemRe.MatchString(key) {
			s := strings.Split(key, "-")
			key = s[0] + "-" + s[len(s)-1]
			if prev, ok := row[key]; ok {
				val = fmt.Sprintf("%s | %s", prev, val)
			}
		}

		row[key] = val
		if _, ok := p.seen[key]; !ok && !isMetadata(key) {
			p.seen[key] = struct{}{}
			p.itemOrder = append(p.itemOrder, key)
		}
	}

	return row, nil
}

// metadataValue decodes a metadata field: the reference as int64, dates as
// UTC times, everything else as text. JSON null stays nil.
func metadataValue(id string, raw json.RawMessage) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	if id == engine.ReferenceColumn {
		ref, ok := engine.Row{id: v}.Reference()
		if !ok {
			return nil, fmt.Errorf("invalid reference number %v", v)
		}
		return ref, nil
	}

	if slices.Contains(DateColumns, id) {
		s := engine.FormatCell(v, nil)
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return t.UTC(), nil
	}

	return engine.FormatCell(v, nil), nil
}

// Columns returns the export column order: leading metadata, item columns in
// first-seen order, then the remaining metadata.
func (p *Parser) Columns() []engine.Column {
	columns := make([]engine.Column, 0, len(p.itemOrder)+len(p.metadata))
	for _, id := range leadingColumns {
		if _, ok := p.metadata[id]; ok {
			columns = append(columns, engine.Column{ID: id})
		}
	}
	for _, id := range p.itemOrder {
		columns = append(columns, engine.Column{ID: id})
	}
	for _, m := range MetadataColumns {
		if _, ok := p.metadata[m.ID]; ok && !slices.Contains(leadingColumns, m.ID) {
			columns = append(columns, engine.Column{ID: m.ID})
		}
	}
	return columns
}

// Table returns everything fed so far, with dates converted to loc.
func (p *Parser) Table(loc *time.Location) *engine.Table {
	table := engine.NewTable(p.Columns(), p.rows)
	if loc != nil {
		table.InZone(loc)
	}
	return table
}
