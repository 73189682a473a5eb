package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hpungsan/tcap/internal/capsule"
)

// ListOptions filters GET /capsules. Zero values are omitted.
type ListOptions struct {
	Status  capsule.Status
	Limit   int
	LastKey string // opaque cursor from a previous ListResult
}

// ListResult is one page of capsules.
type ListResult struct {
	Capsules []capsule.Capsule `json:"capsules"`
	Count    int               `json:"count"`
	LastKey  string            `json:"last_key,omitempty"`
}

// Ack is the backend's acknowledgement of a write.
type Ack struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// UploadRequest is the POST /upload body.
type UploadRequest struct {
	FileData    string `json:"file_data"` // base64 data URL
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// UploadResult is the POST /upload response.
type UploadResult struct {
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// ListCapsules fetches the current user's capsules, most recent first.
func (c *Client) ListCapsules(ctx context.Context, opts ListOptions) (*ListResult, error) {
	path := "/capsules"
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.LastKey != "" {
		q.Set("last_key", opts.LastKey)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res ListResult
	if err := c.Request(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	if res.Capsules == nil {
		res.Capsules = []capsule.Capsule{}
	}
	return &res, nil
}

// CreateCapsule posts d and returns the created capsule.
// The backend acknowledges with the new id; the remaining fields come from d.
func (c *Client) CreateCapsule(ctx context.Context, d capsule.Draft) (*capsule.Capsule, error) {
	var ack Ack
	if err := c.Request(ctx, http.MethodPost, "/capsules", d, &ack); err != nil {
		return nil, err
	}
	return &capsule.Capsule{
		ID:             ack.ID,
		Title:          d.Title,
		Occasion:       d.Occasion,
		RecipientEmail: d.RecipientEmail,
		ScheduledDate:  d.ScheduledDate,
		Message:        d.Message,
		Tags:           d.Tags,
		Attachments:    d.Attachments,
		Status:         capsule.StatusPending,
	}, nil
}

// UpdateCapsule sends a partial update for id.
func (c *Client) UpdateCapsule(ctx context.Context, id string, p capsule.Patch) (*Ack, error) {
	var ack Ack
	if err := c.Request(ctx, http.MethodPut, "/capsules/"+url.PathEscape(id), p, &ack); err != nil {
		return nil, err
	}
	if ack.ID == "" {
		ack.ID = id
	}
	return &ack, nil
}

// DeleteCapsule deletes id.
func (c *Client) DeleteCapsule(ctx context.Context, id string) error {
	return c.Request(ctx, http.MethodDelete, "/capsules/"+url.PathEscape(id), nil, nil)
}

// Upload posts one encoded file and returns its storage key.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	var res UploadResult
	if err := c.Request(ctx, http.MethodPost, "/upload", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
