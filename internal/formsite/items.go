package formsite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MetadataColumn is a result field outside of the "items" object.
type MetadataColumn struct {
	ID    string
	Label string
}

// MetadataColumns in export order.
var MetadataColumns = []MetadataColumn{
	{ID: "id", Label: "Reference #"},
	{ID: "result_status", Label: "Status"},
	{ID: "login_username", Label: "Username"},
	{ID: "login_email", Label: "Email Address"},
	{ID: "payment_status", Label: "Payment Status"},
	{ID: "payment_amount", Label: "Payment Amount Paid"},
	{ID: "score", Label: "Score"},
	{ID: "date_update", Label: "Date"},
	{ID: "date_start", Label: "Start Time"},
	{ID: "date_finish", Label: "Finish Time"},
	{ID: "user_ip", Label: "User"},
	{ID: "user_browser", Label: "Browser"},
	{ID: "user_device", Label: "Device"},
	{ID: "user_referrer", Label: "Referrer"},
}

// DateColumns hold timestamps and are exported as dates.
var DateColumns = []string{"date_update", "date_start", "date_finish"}

// leadingColumns come before the item columns.
var leadingColumns = []string{"id", "result_status", "login_username", "login_email"}

func isMetadata(id string) bool {
	for _, m := range MetadataColumns {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Item is one entry of a form's items, the column schema of its results.
type Item struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Position int      `json:"position"`
	Children []string `json:"children,omitempty"`
}

type itemsResponse struct {
	Items []Item `json:"items"`
}

// FetchItems returns the items of a form, labelled with the results labels
// of the parameters when set.
func (c *Client) FetchItems(ctx context.Context, formID string, params Parameters) ([]Item, error) {
	if formID == "" {
		return nil, ErrMissingFormID
	}

	var out itemsResponse
	if _, err := c.getJSON(ctx, "forms/"+formID+"/items", params.ItemsQuery(), &out); err != nil {
		return nil, fmt.Errorf("failed to fetch items of form %s: %w", formID, err)
	}
	return out.Items, nil
}

// RenameMap maps column ids to human labels. Child items are labelled
// "label (parent label)". Metadata columns always get their fixed label.
func RenameMap(items []Item) map[string]string {
	labels := make(map[string]string, len(items))
	for _, item := range items {
		labels[item.ID] = item.Label
	}

	rename := make(map[string]string, len(items)+len(MetadataColumns))
	parentLabels := make(map[string]string)

	for _, item := range items {
		for _, c := range item.Children {
			parentLabels[c] = item.Label
		}

		parent, isChild := parentLabels[item.ID]
		switch {
		case !isChild:
			rename[item.ID] = item.Label
		case len(item.Children) == 0:
			rename[item.ID] = fmt.Sprintf("%s (%s)", item.Label, parent)
		default:
			// a child that is itself a parent takes the label of its own child
			// at the index given by its last id segment
			segments := strings.Split(item.ID, "-")
			idx, err := strconv.Atoi(segments[len(segments)-1])
			if err == nil && idx >= 0 && idx < len(item.Children) {
				rename[item.ID] = fmt.Sprintf("%s (%s)", labels[item.Children[idx]], parent)
			}
		}
	}

	for _, m := range MetadataColumns {
		rename[m.ID] = m.Label
	}

	return rename
}
