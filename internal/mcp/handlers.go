package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/identity"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/upload"
)

// Sessions is the session surface tools need. *session.Manager satisfies it.
type Sessions interface {
	CurrentSession(ctx context.Context) *identity.Session
	LoggedIn() bool
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sessions Sessions
	deps     ops.Deps
	loc      *time.Location
}

// NewHandlers creates a new Handlers instance. Local dates are read in loc.
func NewHandlers(sessions Sessions, deps ops.Deps, loc *time.Location) *Handlers {
	if loc == nil {
		loc = time.Local
	}
	return &Handlers{sessions: sessions, deps: deps, loc: loc}
}

// Request types for each tool

// ListRequest represents the arguments for capsule_list.
type ListRequest struct {
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	LastKey string `json:"last_key,omitempty"`
}

// GetRequest represents the arguments for capsule_get and capsule_delete.
type GetRequest struct {
	ID string `json:"id"`
}

// CreateRequest represents the arguments for capsule_create.
type CreateRequest struct {
	Title          string   `json:"title"`
	RecipientEmail string   `json:"recipient_email"`
	ScheduledDate  string   `json:"scheduled_date"`
	Message        string   `json:"message"`
	Occasion       string   `json:"occasion,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Files          []string `json:"files,omitempty"`
}

// UpdateRequest represents the arguments for capsule_update.
type UpdateRequest struct {
	ID             string    `json:"id"`
	Title          *string   `json:"title,omitempty"`
	RecipientEmail *string   `json:"recipient_email,omitempty"`
	ScheduledDate  *string   `json:"scheduled_date,omitempty"`
	Message        *string   `json:"message,omitempty"`
	Occasion       *string   `json:"occasion,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	Files          []string  `json:"files,omitempty"`
}

// SessionStatus is the capsule-free answer of session_status.
type SessionStatus struct {
	LoggedIn  bool       `json:"logged_in"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Handler implementations

// HandleSessionStatus handles the session_status tool call.
func (h *Handlers) HandleSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess := h.sessions.CurrentSession(ctx)
	if sess == nil {
		return successResult(SessionStatus{})
	}
	exp := sess.ExpiresAt
	return successResult(SessionStatus{LoggedIn: true, Email: sess.Email, ExpiresAt: &exp})
}

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if err := h.requireSession(ctx); err != nil {
		return errorResult(err), nil
	}

	result, err := ops.List(ctx, h.deps, ops.ListInput{
		Status:  capsule.Status(input.Status),
		Limit:   input.Limit,
		LastKey: input.LastKey,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGet handles the capsule_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if err := h.requireSession(ctx); err != nil {
		return errorResult(err), nil
	}

	c, err := ops.Get(ctx, h.deps, ops.GetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(c)
}

// HandleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if err := h.requireSession(ctx); err != nil {
		return errorResult(err), nil
	}

	scheduled, err := capsule.ParseSchedule(input.ScheduledDate, h.loc)
	if err != nil {
		return errorResult(err), nil
	}
	files, err := readFiles(input.Files)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Create(ctx, h.deps, ops.CreateInput{
		Draft: capsule.Draft{
			Title:          strings.TrimSpace(input.Title),
			Occasion:       strings.TrimSpace(input.Occasion),
			RecipientEmail: strings.TrimSpace(input.RecipientEmail),
			ScheduledDate:  scheduled,
			Message:        input.Message,
			Tags:           capsule.CleanTags(input.Tags),
			Attachments:    []string{},
		},
		Files: files,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleUpdate handles the capsule_update tool call.
func (h *Handlers) HandleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if err := h.requireSession(ctx); err != nil {
		return errorResult(err), nil
	}

	patch := capsule.Patch{
		Title:          input.Title,
		Occasion:       input.Occasion,
		RecipientEmail: input.RecipientEmail,
		Message:        input.Message,
	}
	if input.Tags != nil {
		tags := capsule.CleanTags(*input.Tags)
		patch.Tags = &tags
	}
	if input.ScheduledDate != nil {
		ts, err := capsule.ParseSchedule(*input.ScheduledDate, h.loc)
		if err != nil {
			return errorResult(err), nil
		}
		patch.ScheduledDate = &ts
	}
	files, err := readFiles(input.Files)
	if err != nil {
		return errorResult(err), nil
	}

	// The current capsule gates delivered ones and supplies the attachments new files extend.
	current, err := ops.Get(ctx, h.deps, ops.GetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Update(ctx, h.deps, ops.UpdateInput{
		ID:      input.ID,
		Current: current,
		Patch:   patch,
		Files:   files,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the capsule_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if err := h.requireSession(ctx); err != nil {
		return errorResult(err), nil
	}

	current, err := ops.Get(ctx, h.deps, ops.GetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Delete(ctx, h.deps, ops.DeleteInput{ID: input.ID, Current: current})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// requireSession rehydrates the persisted session on first use.
func (h *Handlers) requireSession(ctx context.Context) error {
	if h.sessions.LoggedIn() || h.sessions.CurrentSession(ctx) != nil {
		return nil
	}
	return errors.NewAuth(errors.ReasonNoSession, "Not logged in. Run `tcap login` first.", nil)
}

func readFiles(paths []string) ([]upload.File, error) {
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		f, err := upload.FromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var tErr *errors.TcapError
	if errors.As(err, &tErr) {
		// Keep context added by wrapping ("items[2]: ...") ahead of the message.
		message := tErr.Message
		if prefix, ok := strings.CutSuffix(err.Error(), tErr.Error()); ok && prefix != "" {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    tErr.Code,
			"message": message,
			"status":  tErr.Status,
		}
		// Internal details can carry paths or provider responses
		if tErr.Code != errors.ErrInternal && tErr.Details != nil {
			errorObj["details"] = tErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
