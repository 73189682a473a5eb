package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/tcap/internal/capsule"
)

// RecordedRequest is one request seen by Backend.
type RecordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

// UploadBody mirrors the POST /upload request body.
type UploadBody struct {
	FileData    string `json:"file_data"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// Backend is an in-memory REST backend served over httptest.
// It stores full capsules and answers list requests with previews, like the real service.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	capsules []capsule.Capsule // most recent first
	nextID   int
	uploads  []UploadBody
	requests []RecordedRequest

	// Token, when set, is the only accepted bearer token.
	Token string
	// FailUploadAt fails the Nth upload (1-based) with a 500. Zero never fails.
	FailUploadAt int
	// FailCreate, when set, rejects POST /capsules with this message.
	FailCreate string
}

// NewBackend starts a backend that is closed when t ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /capsules", b.handleList)
	mux.HandleFunc("POST /capsules", b.handleCreate)
	mux.HandleFunc("PUT /capsules/{id}", b.handleUpdate)
	mux.HandleFunc("DELETE /capsules/{id}", b.handleDelete)
	mux.HandleFunc("POST /upload", b.handleUpload)

	b.Server = httptest.NewServer(b.record(b.auth(mux)))
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base URL.
func (b *Backend) URL() string {
	return b.Server.URL
}

// Add stores c as if it had been created earlier. Missing ids are assigned.
func (b *Backend) Add(c capsule.Capsule) capsule.Capsule {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.ID == "" {
		b.nextID++
		c.ID = fmt.Sprintf("cap-%d", b.nextID)
	}
	if c.Status == "" {
		c.Status = capsule.StatusPending
	}
	b.capsules = append([]capsule.Capsule{c}, b.capsules...)
	return c
}

// Capsules returns the stored capsules, most recent first.
func (b *Backend) Capsules() []capsule.Capsule {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]capsule.Capsule(nil), b.capsules...)
}

// Uploads returns the upload bodies received, in order.
func (b *Backend) Uploads() []UploadBody {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]UploadBody(nil), b.uploads...)
}

// Requests returns every request received, in order.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedRequest(nil), b.requests...)
}

// RequestsTo returns the requests matching method and path (query ignored).
func (b *Backend) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		b.mu.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		b.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (b *Backend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		token := b.Token
		b.mu.Unlock()

		got := r.Header.Get("Authorization")
		if got == "" || (token != "" && got != "Bearer "+token) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	status := capsule.Status(r.URL.Query().Get("status"))

	b.mu.Lock()
	list := make([]capsule.Capsule, 0, len(b.capsules))
	for _, c := range b.capsules {
		if status != "" && c.Status != status {
			continue
		}
		c.MessagePreview = capsule.Preview(&capsule.Capsule{Message: c.Message})
		c.Message = ""
		list = append(list, c)
	}
	b.mu.Unlock()

	writeData(w, http.StatusOK, map[string]any{
		"capsules": list,
		"count":    len(list),
	})
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var d capsule.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if b.FailCreate != "" {
		writeError(w, http.StatusBadRequest, b.FailCreate)
		return
	}
	if d.Title == "" || d.RecipientEmail == "" || d.Message == "" || d.ScheduledDate.IsZero() {
		writeError(w, http.StatusBadRequest, "Missing required field")
		return
	}
	if !d.ScheduledDate.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "Scheduled date must be in the future")
		return
	}

	c := b.Add(capsule.Capsule{
		Title:          d.Title,
		Occasion:       d.Occasion,
		RecipientEmail: d.RecipientEmail,
		ScheduledDate:  d.ScheduledDate,
		Message:        d.Message,
		Tags:           d.Tags,
		Attachments:    d.Attachments,
		CreatedAt:      capsule.NewTimestamp(time.Now()),
	})
	writeData(w, http.StatusCreated, map[string]any{
		"id":             c.ID,
		"message":        "Time capsule created successfully",
		"scheduled_date": c.ScheduledDate,
	})
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var p capsule.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.find(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "Capsule not found")
		return
	}
	if c.Status == capsule.StatusDelivered {
		writeError(w, http.StatusBadRequest, "Cannot update delivered capsule")
		return
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Occasion != nil {
		c.Occasion = *p.Occasion
	}
	if p.RecipientEmail != nil {
		c.RecipientEmail = *p.RecipientEmail
	}
	if p.ScheduledDate != nil {
		c.ScheduledDate = *p.ScheduledDate
	}
	if p.Message != nil {
		c.Message = *p.Message
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.Attachments != nil {
		c.Attachments = *p.Attachments
	}
	writeData(w, http.StatusOK, map[string]any{
		"id":      c.ID,
		"message": "Time capsule updated successfully",
	})
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := r.PathValue("id")
	for i := range b.capsules {
		if b.capsules[i].ID != id {
			continue
		}
		if b.capsules[i].Status == capsule.StatusDelivered {
			writeError(w, http.StatusBadRequest, "Cannot delete delivered capsule")
			return
		}
		b.capsules = append(b.capsules[:i], b.capsules[i+1:]...)
		writeData(w, http.StatusOK, map[string]any{
			"id":      id,
			"message": "Time capsule deleted successfully",
		})
		return
	}
	writeError(w, http.StatusNotFound, "Capsule not found")
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	var body UploadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if body.FileData == "" || body.FileName == "" {
		writeError(w, http.StatusBadRequest, "Missing file_data or file_name")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, body)
	n := len(b.uploads)
	if b.FailUploadAt == n {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"file_key":  fmt.Sprintf("uploads/user/%d-%s", n, body.FileName),
		"file_name": body.FileName,
	})
}

// find returns a pointer into b.capsules. Caller holds b.mu.
func (b *Backend) find(id string) *capsule.Capsule {
	for i := range b.capsules {
		if b.capsules[i].ID == id {
			return &b.capsules[i]
		}
	}
	return nil
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
