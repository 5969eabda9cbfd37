package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"crmcli/internal/model"
)

// ListContacts returns all contacts; filtering and pagination happen
// client-side over the full list.
func (c *Client) ListContacts(ctx context.Context) ([]model.Contact, error) {
	var contacts []model.Contact
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, &contacts, true); err != nil {
		return nil, err
	}
	return contacts, nil
}

// CreateContact adds a contact.
func (c *Client) CreateContact(ctx context.Context, contact model.Contact) (model.Contact, error) {
	var created model.Contact
	if err := c.do(ctx, http.MethodPost, "/api/contacts", contact, &created, true); err != nil {
		return model.Contact{}, err
	}
	return created, nil
}

// UpdateContact replaces a contact's fields.
func (c *Client) UpdateContact(ctx context.Context, id string, contact model.Contact) (model.Contact, error) {
	var updated model.Contact
	path := "/api/contacts/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, contact, &updated, true); err != nil {
		return model.Contact{}, err
	}
	return updated, nil
}

// DeleteContact removes one contact.
func (c *Client) DeleteContact(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/contacts/"+url.PathEscape(id), nil, nil, true)
}

// BulkDeleteContacts removes the selected contacts in one call.
func (c *Client) BulkDeleteContacts(ctx context.Context, ids []string) error {
	payload := map[string][]string{"ids": ids}
	return c.do(ctx, http.MethodPost, "/api/contacts/bulk-delete", payload, nil, true)
}

// ListTags returns all tags.
func (c *Client) ListTags(ctx context.Context) ([]model.Tag, error) {
	var tags []model.Tag
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &tags, true); err != nil {
		return nil, err
	}
	return tags, nil
}

// CreateTag adds a tag with a display color.
func (c *Client) CreateTag(ctx context.Context, name, color string) (model.Tag, error) {
	payload := map[string]string{"name": name, "color": color}
	var tag model.Tag
	if err := c.do(ctx, http.MethodPost, "/api/tags", payload, &tag, true); err != nil {
		return model.Tag{}, err
	}
	return tag, nil
}

// UpdateTag renames or recolors a tag.
func (c *Client) UpdateTag(ctx context.Context, id, name, color string) (model.Tag, error) {
	payload := map[string]string{"name": name, "color": color}
	var tag model.Tag
	if err := c.do(ctx, http.MethodPut, "/api/tags/"+url.PathEscape(id), payload, &tag, true); err != nil {
		return model.Tag{}, err
	}
	return tag, nil
}

// DeleteTag removes a tag.
func (c *Client) DeleteTag(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tags/"+url.PathEscape(id), nil, nil, true)
}

// ActivityFilter narrows the activity log query.
type ActivityFilter struct {
	Page   int
	Action string
	Start  string
	End    string
}

// ListActivities returns one page of the activity log.
func (c *Client) ListActivities(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	params := url.Values{}
	if filter.Page > 0 {
		params.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Action != "" {
		params.Set("action", filter.Action)
	}
	if filter.Start != "" {
		params.Set("start", filter.Start)
	}
	if filter.End != "" {
		params.Set("end", filter.End)
	}

	path := "/api/activities"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var activities []model.Activity
	if err := c.do(ctx, http.MethodGet, path, nil, &activities, true); err != nil {
		return nil, err
	}
	return activities, nil
}

// DashboardSummary returns the headline counts.
func (c *Client) DashboardSummary(ctx context.Context) (model.DashboardSummary, error) {
	var summary model.DashboardSummary
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/summary", nil, &summary, true); err != nil {
		return model.DashboardSummary{}, err
	}
	return summary, nil
}

// DashboardBuckets fetches one of the chart endpoints: contacts-by-company,
// tag-distribution or activities-timeline.
func (c *Client) DashboardBuckets(ctx context.Context, chart string) ([]model.LabelCount, error) {
	switch chart {
	case "contacts-by-company", "tag-distribution", "activities-timeline":
	default:
		return nil, fmt.Errorf("api: unknown dashboard chart %q", chart)
	}

	var buckets []model.LabelCount
	if err := c.do(ctx, http.MethodGet, "/api/dashboard/"+chart, nil, &buckets, true); err != nil {
		return nil, err
	}
	return buckets, nil
}
