package capsule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the delivery state of a capsule.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Editable reports whether a capsule in this status may still be edited or deleted.
func (s Status) Editable() bool {
	return s == StatusPending
}

// Capsule is a scheduled message as returned by the backend.
// The backend owns these records; the client only holds the displayed page.
type Capsule struct {
	// ID is assigned by the backend
	ID string `json:"id"`

	Title string `json:"title"`

	// Occasion is optional free text ("birthday", "graduation")
	Occasion string `json:"occasion,omitempty"`

	RecipientEmail string `json:"recipient_email"`

	// ScheduledDate is when delivery is due
	ScheduledDate Timestamp `json:"scheduled_date"`

	// Message is the full body. List responses usually carry only MessagePreview.
	Message string `json:"message,omitempty"`

	// MessagePreview is the backend's truncated message (first 100 chars)
	MessagePreview string `json:"message_preview,omitempty"`

	// Tags keep submission order; duplicates are allowed
	Tags []string `json:"tags,omitempty"`

	// Attachments are object-storage URLs in upload order
	Attachments []string `json:"attachments,omitempty"`

	Status Status `json:"status"`

	CreatedAt Timestamp `json:"created_at"`
}

// Draft is the body of POST /capsules: capsule fields minus id, status and created_at.
type Draft struct {
	Title          string    `json:"title"`
	Occasion       string    `json:"occasion"`
	RecipientEmail string    `json:"recipient_email"`
	ScheduledDate  Timestamp `json:"scheduled_date"`
	Message        string    `json:"message"`
	Tags           []string  `json:"tags"`
	Attachments    []string  `json:"attachments"`
}

// Patch is the body of PUT /capsules/{id}. Nil fields are left unchanged.
type Patch struct {
	Title          *string    `json:"title,omitempty"`
	Occasion       *string    `json:"occasion,omitempty"`
	RecipientEmail *string    `json:"recipient_email,omitempty"`
	ScheduledDate  *Timestamp `json:"scheduled_date,omitempty"`
	Message        *string    `json:"message,omitempty"`
	Tags           *[]string  `json:"tags,omitempty"`
	Attachments    *[]string  `json:"attachments,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Occasion == nil && p.RecipientEmail == nil &&
		p.ScheduledDate == nil && p.Message == nil && p.Tags == nil && p.Attachments == nil
}

// Timestamp is an ISO-8601 instant. It marshals the way browsers serialize dates
// (UTC, millisecond precision, "Z" suffix) and accepts the offset-less
// timestamps the backend writes for created_at.
type Timestamp struct {
	time.Time
}

// wireLayout matches JavaScript's Date.prototype.toISOString.
const wireLayout = "2006-01-02T15:04:05.000Z"

// parseLayouts are tried in order; layouts without an offset are read as UTC.
var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses s with the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q: use ISO 8601", s)
}

// String returns the wire form.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(wireLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler. null and "" leave t zero.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
