// Package activecampaign maps the ActiveCampaign v3 resources onto typed
// records. Collections are read with the parallel batch fetcher; every
// request goes through the rate limited, retrying client.
package activecampaign

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/activecampaign-client/pkg/client"
	"github.com/Sternrassler/activecampaign-client/pkg/logging"
	"github.com/Sternrassler/activecampaign-client/pkg/pagination"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a lookup expecting exactly one record
	// finds none.
	ErrNotFound = errors.New("no matching record")

	// ErrAmbiguousResult is returned when a lookup expecting exactly one
	// record finds several.
	ErrAmbiguousResult = errors.New("ambiguous result")
)

// Client exposes the API resources.
type Client struct {
	api    *client.Client
	paging pagination.Config
	logger zerolog.Logger
}

// New wraps api. paging supplies the page size and worker count used for
// every collection read.
func New(api *client.Client, paging pagination.Config) *Client {
	return &Client{
		api:    api,
		paging: paging,
		logger: logging.NewLogger(logging.ComponentActiveCampaign),
	}
}

// API returns the underlying request executor.
func (c *Client) API() *client.Client {
	return c.api
}

func fetcherFor[T any](c *Client, resource, path string, progress []pagination.ProgressFunc) *pagination.BatchFetcher[T] {
	cfg := c.paging
	cfg.Resource = resource
	cfg.Progress = combineProgress(progress)
	return pagination.NewBatchFetcher[T](collectionSource[T](c.api, path, resource), cfg)
}

// fetchAll reads the whole collection at /<resource>.
func fetchAll[T any](ctx context.Context, c *Client, resource, filter string, progress ...pagination.ProgressFunc) ([]T, error) {
	items, err := fetcherFor[T](c, resource, "/"+resource, progress).FetchAll(ctx, filter)
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	return items, nil
}

func combineProgress(fns []pagination.ProgressFunc) pagination.ProgressFunc {
	var active []pagination.ProgressFunc
	for _, fn := range fns {
		if fn != nil {
			active = append(active, fn)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(processed, total int) {
		for _, fn := range active {
			fn(processed, total)
		}
	}
}

// cancelled makes sure an error caused by ctx ending wraps
// client.ErrCancelled, whichever layer noticed it first.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, client.ErrCancelled) {
		return fmt.Errorf("%w: %w", client.ErrCancelled, err)
	}
	return err
}

// exactlyOne returns the only element of items.
func exactlyOne[T any](items []T, what string) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, fmt.Errorf("%s: %w", what, ErrNotFound)
	case 1:
		return items[0], nil
	default:
		return zero, fmt.Errorf("%s: %d records match: %w", what, len(items), ErrAmbiguousResult)
	}
}

// GetTag returns the tag named exactly name.
func (c *Client) GetTag(ctx context.Context, name string) (Tag, error) {
	candidates, err := fetchAll[Tag](ctx, c, "tags", "&search="+url.QueryEscape(name))
	if err != nil {
		return Tag{}, fmt.Errorf("search tag %q: %w", name, err)
	}

	var matches []Tag
	for _, tag := range candidates {
		if tag.Name == name {
			matches = append(matches, tag)
		}
	}
	return exactlyOne(matches, fmt.Sprintf("tag %q", name))
}

// ListTags returns every tag.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	return fetchAll[Tag](ctx, c, "tags", "")
}

// ListLists returns every list.
func (c *Client) ListLists(ctx context.Context) ([]List, error) {
	return fetchAll[List](ctx, c, "lists", "")
}

// ListFields returns every custom field definition.
func (c *Client) ListFields(ctx context.Context) ([]CustomField, error) {
	return fetchAll[CustomField](ctx, c, "fields", "")
}

// ListCampaigns returns every campaign.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	return fetchAll[Campaign](ctx, c, "campaigns", "")
}

// ListFieldValues returns every contact's value for the custom field.
func (c *Client) ListFieldValues(ctx context.Context, fieldID int) ([]FieldValue, error) {
	return fetchAll[FieldValue](ctx, c, "fieldValues", "&filters[fieldid]="+strconv.Itoa(fieldID))
}

func contactsByTagFilter(tagID int, status ContactStatus, dateRange *DateRange) string {
	filter := fmt.Sprintf("&tagid=%d&status=%d", tagID, int(status))
	if dateRange != nil {
		filter += dateRange.Filter()
	}
	return filter
}

// GetContactsByTag returns the contacts carrying the tag, optionally
// restricted by status and creation time. Progress observers are called
// after every page with the number of contacts received so far.
func (c *Client) GetContactsByTag(ctx context.Context, tagID int, status ContactStatus, dateRange *DateRange, progress ...pagination.ProgressFunc) ([]Contact, error) {
	return fetchAll[Contact](ctx, c, "contacts", contactsByTagFilter(tagID, status, dateRange), progress...)
}

// CountContactsByTag returns how many contacts GetContactsByTag would
// return, without reading them.
func (c *Client) CountContactsByTag(ctx context.Context, tagID int, status ContactStatus, dateRange *DateRange) (int, error) {
	n, err := fetcherFor[Contact](c, "contacts", "/contacts", nil).
		Count(ctx, contactsByTagFilter(tagID, status, dateRange))
	if err != nil {
		return 0, cancelled(ctx, err)
	}
	return n, nil
}

// GetListContactStatuses returns the list memberships of a list with the
// given status.
func (c *Client) GetListContactStatuses(ctx context.Context, listID int, status ContactStatus) ([]ContactListStatus, error) {
	return fetchAll[ContactListStatus](ctx, c, "contactLists", fmt.Sprintf("&listid=%d&status=%d", listID, int(status)))
}

// UpdateContactListStatus subscribes or unsubscribes a contact on a list.
func (c *Client) UpdateContactListStatus(ctx context.Context, contactID, listID int, status ContactStatus) (ContactListStatus, error) {
	payload := map[string]any{
		"contactList": map[string]int{
			"list":    listID,
			"contact": contactID,
			"status":  int(status),
		},
	}

	var out struct {
		ContactList ContactListStatus `json:"contactList"`
	}
	if err := c.post(ctx, "/contactLists", payload, &out); err != nil {
		return ContactListStatus{}, fmt.Errorf("update status of contact %d on list %d: %w", contactID, listID, err)
	}
	return out.ContactList, nil
}

// AddContact creates a contact with the given email address.
func (c *Client) AddContact(ctx context.Context, email string) (Contact, error) {
	payload := map[string]any{"contact": map[string]string{"email": email}}

	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.post(ctx, "/contacts", payload, &out); err != nil {
		return Contact{}, fmt.Errorf("add contact %q: %w", email, err)
	}
	c.logger.Info().Int("contact_id", out.Contact.ID.Int()).Msg("Contact added")
	return out.Contact, nil
}

// SearchContactsByEmail returns the contacts whose email matches.
func (c *Client) SearchContactsByEmail(ctx context.Context, email string) ([]Contact, error) {
	contacts, err := fetchAll[Contact](ctx, c, "contacts", "&email="+url.QueryEscape(email))
	if err != nil {
		return nil, fmt.Errorf("search contact %q: %w", email, err)
	}
	return contacts, nil
}

// GetContactByEmail returns the single contact with the email address.
func (c *Client) GetContactByEmail(ctx context.Context, email string) (Contact, error) {
	contacts, err := c.SearchContactsByEmail(ctx, email)
	if err != nil {
		return Contact{}, err
	}
	return exactlyOne(contacts, fmt.Sprintf("contact %q", email))
}

// SyncContact creates the contact or updates the existing one with the
// same email address.
func (c *Client) SyncContact(ctx context.Context, email string, input ContactInput) (Contact, error) {
	payload := struct {
		Contact struct {
			Email string `json:"email"`
			ContactInput
		} `json:"contact"`
	}{}
	payload.Contact.Email = email
	payload.Contact.ContactInput = input

	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.post(ctx, "/contact/sync", payload, &out); err != nil {
		return Contact{}, fmt.Errorf("sync contact %q: %w", email, err)
	}
	return out.Contact, nil
}

// AddTagToContact tags a contact.
func (c *Client) AddTagToContact(ctx context.Context, contactID, tagID int) (ContactTag, error) {
	payload := map[string]any{
		"contactTag": map[string]int{
			"contact": contactID,
			"tag":     tagID,
		},
	}

	var out struct {
		ContactTag ContactTag `json:"contactTag"`
	}
	if err := c.post(ctx, "/contactTags", payload, &out); err != nil {
		return ContactTag{}, fmt.Errorf("add tag %d to contact %d: %w", tagID, contactID, err)
	}
	return out.ContactTag, nil
}

// RemoveTagFromContact removes the tag from the contact. It reports false
// when the contact did not carry the tag.
func (c *Client) RemoveTagFromContact(ctx context.Context, contactID, tagID int) (bool, error) {
	resp, err := c.api.Get(ctx, fmt.Sprintf("/contacts/%d/contactTags", contactID))
	if err != nil {
		return false, fmt.Errorf("list tags of contact %d: %w", contactID, err)
	}

	var associations struct {
		ContactTags []ContactTag `json:"contactTags"`
	}
	if err := resp.Decode(&associations); err != nil {
		return false, err
	}

	for _, assoc := range associations.ContactTags {
		if assoc.Tag.Int() != tagID {
			continue
		}
		if _, err := c.api.Delete(ctx, fmt.Sprintf("/contactTags/%d", assoc.ID.Int())); err != nil {
			return false, fmt.Errorf("remove tag %d from contact %d: %w", tagID, contactID, err)
		}
		c.logger.Debug().
			Int("contact_id", contactID).
			Int("tag_id", tagID).
			Msg("Tag removed from contact")
		return true, nil
	}
	return false, nil
}

func (c *Client) post(ctx context.Context, target string, payload, out any) error {
	resp, err := c.api.Post(ctx, target, payload)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
