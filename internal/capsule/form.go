package capsule

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/hpungsan/tcap/internal/errors"
)

// LocalInputLayout is the minute-precision local date-time form field format.
const LocalInputLayout = "2006-01-02T15:04"

// MinLead is how far in the future a new capsule must be scheduled.
const MinLead = time.Minute

// FormatLocalInput renders t as a local form value in loc.
func FormatLocalInput(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(LocalInputLayout)
}

// ParseLocalInput reads a form value as wall-clock time in loc.
func ParseLocalInput(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(LocalInputLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, errors.NewValidation("Invalid date format. Use YYYY-MM-DDTHH:MM")
	}
	return t, nil
}

// MinScheduled returns the earliest time a form should offer, as a local input value.
func MinScheduled(now time.Time, loc *time.Location) string {
	return FormatLocalInput(now.Add(MinLead), loc)
}

// ParseSchedule reads a scheduled date given on a command line or by a tool:
// an RFC 3339 instant, or a LocalInputLayout value read in loc.
func ParseSchedule(s string, loc *time.Location) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewTimestamp(t.UTC()), nil
	}
	t, err := time.ParseInLocation(LocalInputLayout, s, loc)
	if err != nil {
		return Timestamp{}, errors.NewValidation(fmt.Sprintf("invalid scheduled date %q (use 2030-01-31T09:00 or an RFC 3339 timestamp)", s))
	}
	return NewTimestamp(t.UTC()), nil
}

// Form holds the raw capsule form fields as the user typed them.
type Form struct {
	Title          string
	Occasion       string
	RecipientEmail string
	ScheduledLocal string // LocalInputLayout in the form's zone
	Message        string
	Tags           string // comma-separated
}

// FormFromCapsule populates a form for editing c, converting the scheduled
// date to its local-time equivalent in loc.
func FormFromCapsule(c *Capsule, loc *time.Location) Form {
	message := c.Message
	if message == "" {
		message = c.MessagePreview
	}
	return Form{
		Title:          c.Title,
		Occasion:       c.Occasion,
		RecipientEmail: c.RecipientEmail,
		ScheduledLocal: FormatLocalInput(c.ScheduledDate.Time, loc),
		Message:        message,
		Tags:           JoinTags(c.Tags),
	}
}

// Draft assembles a create payload from the form. attachments may be nil.
func (f Form) Draft(loc *time.Location, attachments []string) (Draft, error) {
	scheduled, err := ParseLocalInput(f.ScheduledLocal, loc)
	if err != nil {
		return Draft{}, err
	}
	if attachments == nil {
		attachments = []string{}
	}
	return Draft{
		Title:          strings.TrimSpace(f.Title),
		Occasion:       strings.TrimSpace(f.Occasion),
		RecipientEmail: strings.TrimSpace(f.RecipientEmail),
		ScheduledDate:  NewTimestamp(scheduled.UTC()),
		Message:        f.Message,
		Tags:           ParseTags(f.Tags),
		Attachments:    attachments,
	}, nil
}

// ValidateDraft checks the fields the backend requires. The scheduled date
// must be strictly after now.
func ValidateDraft(d Draft, now time.Time) error {
	if d.Title == "" {
		return errors.NewValidation("Title is required")
	}
	if strings.TrimSpace(d.Message) == "" {
		return errors.NewValidation("Message is required")
	}
	if err := ValidateEmail(d.RecipientEmail); err != nil {
		return err
	}
	if d.ScheduledDate.IsZero() {
		return errors.NewValidation("Scheduled date is required")
	}
	if !d.ScheduledDate.After(now) {
		return errors.NewValidation("Scheduled date must be in the future")
	}
	return nil
}

// ValidateEmail accepts a bare address ("a@x.com"), not a display-name form.
func ValidateEmail(s string) error {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return errors.NewValidation("Invalid recipient email address")
	}
	return nil
}

// ValidatePatch applies the ValidateDraft rules to the fields p sets.
func ValidatePatch(p Patch, now time.Time) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return errors.NewValidation("Title is required")
	}
	if p.Message != nil && strings.TrimSpace(*p.Message) == "" {
		return errors.NewValidation("Message is required")
	}
	if p.RecipientEmail != nil {
		if err := ValidateEmail(*p.RecipientEmail); err != nil {
			return err
		}
	}
	if p.ScheduledDate != nil && !p.ScheduledDate.After(now) {
		return errors.NewValidation("Scheduled date must be in the future")
	}
	return nil
}

// Patch converts a full draft into an update that sets every field.
func (d Draft) Patch() Patch {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	attachments := d.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	scheduled := d.ScheduledDate
	return Patch{
		Title:          &d.Title,
		Occasion:       &d.Occasion,
		RecipientEmail: &d.RecipientEmail,
		ScheduledDate:  &scheduled,
		Message:        &d.Message,
		Tags:           &tags,
		Attachments:    &attachments,
	}
}
