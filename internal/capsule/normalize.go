package capsule

import (
	"strings"
	"unicode/utf8"
)

// PreviewChars is how much of a message the backend keeps in message_preview.
const PreviewChars = 100

// ParseTags splits a comma-separated tags field.
// Segments are trimmed and empty ones dropped; order and duplicates are kept.
// The result is never nil so it serializes as [].
func ParseTags(s string) []string {
	return CleanTags(strings.Split(s, ","))
}

// CleanTags applies the ParseTags rules to tags that arrive already split.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JoinTags renders tags back into the form field format.
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}

// Preview returns the text a card shows for a capsule:
// the backend preview if present, else the first PreviewChars runes of the message.
func Preview(c *Capsule) string {
	if c.MessagePreview != "" {
		return c.MessagePreview
	}
	if c.Message == "" {
		return ""
	}
	if utf8.RuneCountInString(c.Message) <= PreviewChars {
		return c.Message
	}
	runes := []rune(c.Message)
	return string(runes[:PreviewChars]) + "..."
}
