package activecampaign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexInt decodes integers the API sends either as JSON numbers or as
// strings ("42"). Empty strings and null decode to zero.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("decode integer %s: %w", s, err)
		}
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = 0
			return nil
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("decode integer %s: %w", string(data), err)
	}
	*f = FlexInt(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(f))), nil
}

// Int returns f as an int.
func (f FlexInt) Int() int { return int(f) }

// timestampLayouts are tried in order when decoding a Timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp decodes the API's date formats. Empty strings and null decode
// to the zero time.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode timestamp %s: %w", string(data), err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("decode timestamp %q: unsupported format", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// Contact is a contact record.
type Contact struct {
	ID        FlexInt   `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt Timestamp `json:"created_utc_timestamp"`
	UpdatedAt Timestamp `json:"updated_utc_timestamp"`
}

// Tag is a contact tag.
type Tag struct {
	ID              FlexInt   `json:"id"`
	Name            string    `json:"tag"`
	TagType         string    `json:"tagType"`
	Description     string    `json:"description"`
	SubscriberCount FlexInt   `json:"subscriber_count"`
	CreatedAt       Timestamp `json:"cdate"`
}

// List is a mailing list.
type List struct {
	ID        FlexInt   `json:"id"`
	StringID  string    `json:"stringid"`
	UserID    FlexInt   `json:"userid"`
	Name      string    `json:"name"`
	CreatedAt Timestamp `json:"cdate"`
}

// Campaign is an email campaign with its delivery statistics.
type Campaign struct {
	ID               FlexInt        `json:"id"`
	Type             string         `json:"type"`
	Name             string         `json:"name"`
	SendID           FlexInt        `json:"sendid"`
	Status           CampaignStatus `json:"status"`
	CreatedAt        Timestamp      `json:"cdate"`
	SentAt           Timestamp      `json:"sdate"`
	SendAmount       FlexInt        `json:"send_amt"`
	TotalAmount      FlexInt        `json:"total_amt"`
	Opens            FlexInt        `json:"opens"`
	UniqueOpens      FlexInt        `json:"uniqueopens"`
	LinkClicks       FlexInt        `json:"linkclicks"`
	UniqueLinkClicks FlexInt        `json:"uniquelinkclicks"`
	SubscriberClicks FlexInt        `json:"subscriberclicks"`
	Unsubscribes     FlexInt        `json:"unsubscribes"`
}

// CustomField is a custom contact field definition.
type CustomField struct {
	ID          FlexInt `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"descript"`
	Type        string  `json:"type"`
	PersTag     string  `json:"perstag"`
}

// FieldValue is one contact's value for a custom field.
type FieldValue struct {
	ID        FlexInt   `json:"id"`
	Contact   FlexInt   `json:"contact"`
	Field     FlexInt   `json:"field"`
	Value     string    `json:"value"`
	CreatedAt Timestamp `json:"cdate"`
	UpdatedAt Timestamp `json:"udate"`
}

// ContactListStatus is a contact's subscription to a list.
type ContactListStatus struct {
	ID                FlexInt       `json:"id"`
	Contact           FlexInt       `json:"contact"`
	List              FlexInt       `json:"list"`
	Status            ContactStatus `json:"status"`
	FirstName         string        `json:"firstName"`
	LastName          string        `json:"lastName"`
	Email             string        `json:"email"`
	SubscribedAt      Timestamp     `json:"sdate"`
	UpdatedAt         Timestamp     `json:"udate"`
	UnsubscribeReason string        `json:"unsubreason"`
	SourceID          FlexInt       `json:"sourceid"`
	Sync              FlexInt       `json:"sync"`
	Responder         FlexInt       `json:"responder"`
}

// ContactTag associates a tag with a contact.
type ContactTag struct {
	ID      FlexInt `json:"id"`
	Contact FlexInt `json:"contact"`
	Tag     FlexInt `json:"tag"`
}

// FieldValueInput sets a custom field when syncing a contact.
type FieldValueInput struct {
	Field int    `json:"field"`
	Value string `json:"value"`
}

// ContactInput holds the optional contact attributes sent with SyncContact.
// Empty fields are left unchanged on the server.
type ContactInput struct {
	FirstName   string            `json:"firstName,omitempty"`
	LastName    string            `json:"lastName,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	FieldValues []FieldValueInput `json:"fieldValues,omitempty"`
}
