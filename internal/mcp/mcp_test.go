package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tcap/internal/api"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/identity"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/session"
	"github.com/hpungsan/tcap/internal/testutil"
	"github.com/hpungsan/tcap/internal/upload"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testEnv struct {
	h        *Handlers
	sessions *session.Manager
	deps     ops.Deps
	backend  *testutil.Backend
	provider *testutil.FakeProvider
}

// testSetup wires handlers to an in-memory backend and identity provider.
// The user is logged in unless loggedOut is set.
func testSetup(t *testing.T, loggedOut bool) *testEnv {
	t.Helper()

	backend := testutil.NewBackend(t)
	provider := testutil.NewFakeProvider()
	if !loggedOut {
		provider.Persist(&identity.Session{Email: "a@x.com", IDToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})
		backend.Token = "tok"
	}
	sessions := session.New(provider, session.Options{})
	client := api.New(backend.URL(), sessions)
	deps := ops.Deps{
		Backend:  client,
		Uploader: upload.NewUploader(client, "bkt", nil),
	}

	return &testEnv{
		h:        NewHandlers(sessions, deps, time.UTC),
		sessions: sessions,
		deps:     deps,
		backend:  backend,
		provider: provider,
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// writeFile creates a file in a temp dir and returns its path.
func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func future() string {
	return time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
}

func TestHandleSessionStatus(t *testing.T) {
	ctx := context.Background()

	e := testSetup(t, true)
	out := parseOutput(t, must(e.h.HandleSessionStatus(ctx, makeRequest(nil))))
	if out["logged_in"] != false {
		t.Errorf("logged_in = %v, want false", out["logged_in"])
	}

	e = testSetup(t, false)
	out = parseOutput(t, must(e.h.HandleSessionStatus(ctx, makeRequest(nil))))
	if out["logged_in"] != true || out["email"] != "a@x.com" {
		t.Errorf("status = %v", out)
	}
	if _, ok := out["expires_at"]; !ok {
		t.Error("expected expires_at")
	}
}

func TestHandlers_RequireSession(t *testing.T) {
	e := testSetup(t, true)
	ctx := context.Background()

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list":   e.h.HandleList,
		"get":    e.h.HandleGet,
		"create": e.h.HandleCreate,
		"update": e.h.HandleUpdate,
		"delete": e.h.HandleDelete,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			result := must(fn(ctx, makeRequest(map[string]any{"id": "cap-1"})))
			if !result.IsError {
				t.Fatal("expected error result")
			}
			assertErrorCode(t, result, string(errors.ErrAuth))
		})
	}
	if len(e.backend.Requests()) != 0 {
		t.Error("no request should reach the backend without a session")
	}
}

func TestHandleList(t *testing.T) {
	e := testSetup(t, false)
	ctx := context.Background()
	e.backend.Add(capsule.Capsule{Title: "one", Status: capsule.StatusDelivered})
	e.backend.Add(capsule.Capsule{Title: "two"})

	tests := []struct {
		name      string
		args      map[string]any
		wantCount float64
		errorCode string
	}{
		{name: "all", args: map[string]any{}, wantCount: 2},
		{name: "pending only", args: map[string]any{"status": "pending"}, wantCount: 1},
		{name: "bad status", args: map[string]any{"status": "lost"}, errorCode: "VALIDATION"},
		{name: "limit wrong type", args: map[string]any{"limit": "ten"}, errorCode: "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := must(e.h.HandleList(ctx, makeRequest(tt.args)))
			if tt.errorCode != "" {
				assertErrorCode(t, result, tt.errorCode)
				return
			}
			out := parseOutput(t, result)
			if out["count"] != tt.wantCount {
				t.Errorf("count = %v, want %v", out["count"], tt.wantCount)
			}
		})
	}
}

func TestHandleGet(t *testing.T) {
	e := testSetup(t, false)
	ctx := context.Background()
	c := e.backend.Add(capsule.Capsule{Title: "find me", Message: "hello"})

	out := parseOutput(t, must(e.h.HandleGet(ctx, makeRequest(map[string]any{"id": c.ID}))))
	if out["title"] != "find me" || out["message_preview"] != "hello" {
		t.Errorf("capsule = %v", out)
	}

	result := must(e.h.HandleGet(ctx, makeRequest(map[string]any{"id": "missing"})))
	assertErrorCode(t, result, "API")
}

func TestHandleCreate(t *testing.T) {
	e := testSetup(t, false)
	ctx := context.Background()

	img1 := writeFile(t, "one.png", pngHeader)
	img2 := writeFile(t, "two.png", pngHeader)
	doc := writeFile(t, "notes.txt", []byte("plain text"))

	base := func(extra map[string]any) map[string]any {
		args := map[string]any{
			"title":           "For later",
			"recipient_email": "me@example.com",
			"scheduled_date":  future(),
			"message":         "Hi",
		}
		for k, v := range extra {
			args[k] = v
		}
		return args
	}

	tests := []struct {
		name      string
		args      map[string]any
		errorCode string
	}{
		{name: "with two images", args: base(map[string]any{"files": []any{img1, img2}, "tags": []any{"x"}})},
		{name: "local date", args: base(map[string]any{"scheduled_date": "2031-01-01T09:00"})},
		{name: "past date", args: base(map[string]any{"scheduled_date": "2001-01-01T00:00:00Z"}), errorCode: "VALIDATION"},
		{name: "unparseable date", args: base(map[string]any{"scheduled_date": "soon"}), errorCode: "VALIDATION"},
		{name: "bad email", args: base(map[string]any{"recipient_email": "nope"}), errorCode: "VALIDATION"},
		{name: "missing file", args: base(map[string]any{"files": []any{"/does/not/exist.png"}}), errorCode: "VALIDATION"},
		{name: "not an image", args: base(map[string]any{"files": []any{doc}}), errorCode: "VALIDATION"},
		{name: "too many files", args: base(map[string]any{"files": []any{img1, img1, img1, img1, img1, img1}}), errorCode: "VALIDATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := must(e.h.HandleCreate(ctx, makeRequest(tt.args)))
			if tt.errorCode != "" {
				assertErrorCode(t, result, tt.errorCode)
				return
			}
			if result.IsError {
				t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
			}
		})
	}

	// Only the two valid creates reached the backend; uploads in order
	stored := e.backend.Capsules()
	if len(stored) != 2 {
		t.Fatalf("stored %d capsules, want 2", len(stored))
	}
	withFiles := stored[1]
	if len(withFiles.Attachments) != 2 || !strings.HasSuffix(withFiles.Attachments[1], "two.png") {
		t.Errorf("attachments = %v", withFiles.Attachments)
	}
	if got := stored[0].ScheduledDate.String(); got != "2031-01-01T09:00:00.000Z" {
		t.Errorf("local date stored as %s", got)
	}
	if n := len(e.backend.Uploads()); n != 2 {
		t.Errorf("uploads = %d, want 2", n)
	}
}

func TestHandleCreateAndUpdate_TagsCleaned(t *testing.T) {
	e := testSetup(t, false)
	ctx := context.Background()

	result := must(e.h.HandleCreate(ctx, makeRequest(map[string]any{
		"title":           "Tagged",
		"recipient_email": "me@example.com",
		"scheduled_date":  future(),
		"message":         "Hi",
		"tags":            []any{" a", "b ", "", "  ", "c"},
	})))
	if result.IsError {
		t.Fatalf("create failed: %v", extractErrorMessage(result))
	}
	stored := e.backend.Capsules()[0]
	if got := strings.Join(stored.Tags, "|"); got != "a|b|c" {
		t.Errorf("created tags = %v, want [a b c]", stored.Tags)
	}

	result = must(e.h.HandleUpdate(ctx, makeRequest(map[string]any{
		"id":   stored.ID,
		"tags": []any{" x ", ""},
	})))
	if result.IsError {
		t.Fatalf("update failed: %v", extractErrorMessage(result))
	}
	if got := e.backend.Capsules()[0].Tags; len(got) != 1 || got[0] != "x" {
		t.Errorf("updated tags = %v, want [x]", got)
	}
}

func TestHandleUpdate(t *testing.T) {
	e := testSetup(t, false)
	ctx := context.Background()
	pending := e.backend.Add(capsule.Capsule{Title: "old", Message: "m", Attachments: []string{"https://bkt.s3.amazonaws.com/k0"}})
	delivered := e.backend.Add(capsule.Capsule{Title: "sent", Status: capsule.StatusDelivered})
	img := writeFile(t, "new.png", pngHeader)

	result := must(e.h.HandleUpdate(ctx, makeRequest(map[string]any{
		"id":    pending.ID,
		"title": "new",
		"files": []any{img},
	})))
	out := parseOutput(t, result)
	if atts, _ := out["attachments"].([]any); len(atts) != 2 || atts[0] != "https://bkt.s3.amazonaws.com/k0" {
		t.Errorf("attachments = %v, want existing then new", out["attachments"])
	}

	var got capsule.Capsule
	for _, c := range e.backend.Capsules() {
		if c.ID == pending.ID {
			got = c
		}
	}
	if got.Title != "new" || got.Message != "m" {
		t.Errorf("updated capsule = %+v", got)
	}

	tests := []struct {
		name      string
		args      map[string]any
		errorCode string
	}{
		{name: "delivered", args: map[string]any{"id": delivered.ID, "title": "x"}, errorCode: "VALIDATION"},
		{name: "unknown id", args: map[string]any{"id": "nope", "title": "x"}, errorCode: "API"},
		{name: "nothing to change", args: map[string]any{"id": pending.ID}, errorCode: "VALIDATION"},
		{name: "blank title", args: map[string]any{"id": pending.ID, "title": " "}, errorCode: "VALIDATION"},
		{name: "past date", args: map[string]any{"id": pending.ID, "scheduled_date": "2001-01-01T00:00:00Z"}, errorCode: "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertErrorCode(t, must(e.h.HandleUpdate(ctx, makeRequest(tt.args))), tt.errorCode)
		})
	}
	if n := len(e.backend.RequestsTo("PUT", "/capsules/"+delivered.ID)); n != 0 {
		t.Errorf("delivered capsule reached the backend %d times", n)
	}
}

func TestHandleDelete(t *testing.T) {
	e := testSetup(t, false)
	ctx := context.Background()
	pending := e.backend.Add(capsule.Capsule{Title: "bye"})
	delivered := e.backend.Add(capsule.Capsule{Title: "sent", Status: capsule.StatusDelivered})

	out := parseOutput(t, must(e.h.HandleDelete(ctx, makeRequest(map[string]any{"id": pending.ID}))))
	if out["deleted"] != true || out["id"] != pending.ID {
		t.Errorf("delete = %v", out)
	}

	assertErrorCode(t, must(e.h.HandleDelete(ctx, makeRequest(map[string]any{"id": delivered.ID}))), "VALIDATION")
	assertErrorCode(t, must(e.h.HandleDelete(ctx, makeRequest(map[string]any{}))), "VALIDATION")

	if len(e.backend.Capsules()) != 1 {
		t.Errorf("capsules left = %d, want 1", len(e.backend.Capsules()))
	}
}

func TestServerRegistration(t *testing.T) {
	e := testSetup(t, false)

	s := NewServer(e.sessions, e.deps, config.DefaultConfig(), "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"session_status",
		"capsule_list",
		"capsule_get",
		"capsule_create",
		"capsule_update",
		"capsule_delete",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	e := testSetup(t, false)

	cfg := config.DefaultConfig()
	cfg.DisabledTools = []string{"capsule_delete", "capsule_update", "capsule_delete"}
	tools := NewServer(e.sessions, e.deps, cfg, "test").ListTools()

	if len(tools) != 4 {
		t.Errorf("registered tool count = %d, want 4", len(tools))
	}
	for _, name := range []string{"capsule_delete", "capsule_update"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}

	cfg.DisabledTools = AllToolNames()
	if n := len(NewServer(e.sessions, e.deps, cfg, "test").ListTools()); n != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", n)
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"capsule_delete", "session_status"}, 0},
		{"one unknown", []string{"capsule_delete", "capsule_purge"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	tErr := errors.NewInternal(fmt.Errorf("open /home/me/.tcap/tcap.db: permission denied"))
	tErr.Details = map[string]any{"path": "/home/me/.tcap/tcap.db"}

	errObj := errorObject(t, errorResult(tErr))
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("files[2]: %w", errors.NewValidation("x.txt is not an image file"))

	errObj := errorObject(t, errorResult(wrapped))
	if errObj["code"] != string(errors.ErrValidation) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrValidation)
	}
	if msg := errObj["message"].(string); msg != "files[2]: x.txt is not an image file" {
		t.Errorf("message = %q", msg)
	}
}

func TestErrorResult_AuthIncludesReason(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewAuth(errors.ReasonNoSession, "Not logged in", nil)))
	details, ok := errObj["details"].(map[string]any)
	if !ok || details["reason"] != errors.ReasonNoSession {
		t.Fatalf("details = %v", errObj["details"])
	}
}

func TestErrorResult_UntypedError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["message"] != "an internal error occurred" {
		t.Errorf("message = %v", errObj["message"])
	}
}

func TestDecode_TypeErrorNamesArgument(t *testing.T) {
	_, err := decode[ListRequest](makeRequest(map[string]any{"limit": "ten"}))
	if err == nil || !strings.Contains(err.Error(), `"limit"`) {
		t.Errorf("err = %v, want it to name the argument", err)
	}
}

// Helper functions

func must(result *mcp.CallToolResult, err error) *mcp.CallToolResult {
	if err != nil {
		panic(fmt.Sprintf("handler returned error: %v", err))
	}
	return result
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if !result.IsError {
		t.Fatal("expected IsError=true")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error %s, got success", expectedCode)
		return
	}
	if len(result.Content) == 0 {
		t.Errorf("no content in error result")
		return
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Errorf("content is not TextContent")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}

	code, ok := errorObj["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}

	if code != expectedCode {
		t.Errorf("got error code %q, want %q (%s)", code, expectedCode, errorObj["message"])
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
