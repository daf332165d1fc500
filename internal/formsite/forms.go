package formsite

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/fsexport/fsexport/internal/engine"
)

const (
	SortFormsByName         = "name"
	SortFormsByResultsCount = "results_count"
	SortFormsByFilesSize    = "files_size"
)

// Form summarizes one form of a directory.
type Form struct {
	ID           string `json:"form_id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	ResultsCount int64  `json:"results_count"`
	FilesSize    int64  `json:"files_size"`
	URL          string `json:"url"`
}

type formsResponse struct {
	Forms []struct {
		Directory string `json:"directory"`
		Name      string `json:"name"`
		State     string `json:"state"`
		Stats     struct {
			ResultsCount json.Number `json:"resultsCount"`
			FilesSize    json.Number `json:"filesSize"`
		} `json:"stats"`
		Publish struct {
			Link string `json:"link"`
		} `json:"publish"`
	} `json:"forms"`
}

// ListForms returns every form of the client's directory.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	var out formsResponse
	if _, err := c.getJSON(ctx, "forms", url.Values{}, &out); err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}

	forms := make([]Form, len(out.Forms))
	for i, f := range out.Forms {
		results, _ := f.Stats.ResultsCount.Int64()
		size, _ := f.Stats.FilesSize.Int64()
		forms[i] = Form{
			ID:           f.Directory,
			Name:         f.Name,
			State:        f.State,
			ResultsCount: results,
			FilesSize:    size,
			URL:          f.Publish.Link,
		}
	}
	return forms, nil
}

// SortForms sorts by name ascending, or by results count or files size
// descending.
func SortForms(forms []Form, by string) error {
	switch by {
	case "", SortFormsByName:
		slices.SortStableFunc(forms, func(a, b Form) int {
			return strings.Compare(a.Name, b.Name)
		})
	case SortFormsByResultsCount:
		slices.SortStableFunc(forms, func(a, b Form) int {
			return cmp.Compare(b.ResultsCount, a.ResultsCount)
		})
	case SortFormsByFilesSize:
		slices.SortStableFunc(forms, func(a, b Form) int {
			return cmp.Compare(b.FilesSize, a.FilesSize)
		})
	default:
		return fmt.Errorf("%w: cannot sort forms by %q", ErrInvalidParameter, by)
	}
	return nil
}

// ReadableFileSize formats a byte count with binary units, e.g. "1.50 KB".
func ReadableFileSize(n int64) string {
	units := []string{"", "K", "M", "G", "T", "P", "E"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%0.2f %sB", size, units[i])
}

// FormsTable renders forms as a table so they can be written by any encoder.
func FormsTable(forms []Form) *engine.Table {
	columns := []engine.Column{
		{ID: "name", Label: "name"},
		{ID: "form_id", Label: "form_id"},
		{ID: "state", Label: "state"},
		{ID: "results_count", Label: "results count"},
		{ID: "files_size", Label: "files size"},
		{ID: "url", Label: "url"},
	}

	rows := make([]engine.Row, len(forms))
	for i, f := range forms {
		rows[i] = engine.Row{
			"name":          f.Name,
			"form_id":       f.ID,
			"state":         f.State,
			"results_count": f.ResultsCount,
			"files_size":    ReadableFileSize(f.FilesSize),
			"url":           f.URL,
		}
	}
	return engine.NewTable(columns, rows)
}
