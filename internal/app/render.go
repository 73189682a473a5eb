package app

import (
	"time"

	"github.com/hpungsan/tcap/internal/capsule"
)

// MaxThumbnails is how many attachment thumbnails a card shows.
const MaxThumbnails = 3

// DateLayout formats dates on cards.
const DateLayout = "Jan 2, 2006"

// Badge is a status badge's fixed presentation.
type Badge struct {
	Label string
	Color string // yellow, green, red, gray
	Icon  string
}

var badges = map[capsule.Status]Badge{
	capsule.StatusPending:   {Label: "pending", Color: "yellow", Icon: "clock"},
	capsule.StatusDelivered: {Label: "delivered", Color: "green", Icon: "check-circle"},
	capsule.StatusFailed:    {Label: "failed", Color: "red", Icon: "exclamation-triangle"},
}

// StatusBadge returns the badge for s. Unknown statuses render gray.
func StatusBadge(s capsule.Status) Badge {
	if b, ok := badges[s]; ok {
		return b
	}
	return Badge{Label: string(s), Color: "gray", Icon: "question-circle"}
}

// Card is one capsule as displayed in the grid.
type Card struct {
	ID              string
	Title           string
	Badge           Badge
	Recipient       string
	ScheduledDate   string
	Occasion        string // "" hides the row
	Preview         string
	Tags            []string
	AttachmentCount int
	Thumbnails      []string // at most MaxThumbnails
	MoreAttachments int      // attachments beyond the thumbnails
	CreatedDate     string

	// Controls are offered only while the capsule is pending.
	CanEdit   bool
	CanDelete bool
}

// ListView is the rendered capsule list. Exactly one of the empty state and
// the grid is shown.
type ListView struct {
	Cards []Card
}

// ShowEmptyState reports whether the empty-state placeholder is visible.
func (v ListView) ShowEmptyState() bool {
	return len(v.Cards) == 0
}

// ShowGrid reports whether the card grid is visible.
func (v ListView) ShowGrid() bool {
	return len(v.Cards) > 0
}

// BuildListView renders capsules with dates in loc.
func BuildListView(capsules []capsule.Capsule, loc *time.Location) ListView {
	cards := make([]Card, 0, len(capsules))
	for i := range capsules {
		cards = append(cards, BuildCard(&capsules[i], loc))
	}
	return ListView{Cards: cards}
}

// BuildCard renders one capsule.
func BuildCard(c *capsule.Capsule, loc *time.Location) Card {
	preview := capsule.Preview(c)
	if preview == "" {
		preview = "No preview available"
	}

	thumbs := c.Attachments
	if len(thumbs) > MaxThumbnails {
		thumbs = thumbs[:MaxThumbnails]
	}

	editable := c.Status.Editable()
	return Card{
		ID:              c.ID,
		Title:           c.Title,
		Badge:           StatusBadge(c.Status),
		Recipient:       c.RecipientEmail,
		ScheduledDate:   formatDate(c.ScheduledDate, loc),
		Occasion:        c.Occasion,
		Preview:         preview,
		Tags:            c.Tags,
		AttachmentCount: len(c.Attachments),
		Thumbnails:      append([]string(nil), thumbs...),
		MoreAttachments: len(c.Attachments) - len(thumbs),
		CreatedDate:     formatDate(c.CreatedAt, loc),
		CanEdit:         editable,
		CanDelete:       editable,
	}
}

func formatDate(ts capsule.Timestamp, loc *time.Location) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(loc).Format(DateLayout)
}
