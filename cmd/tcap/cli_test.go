package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/testutil"
)

const (
	testEmail    = "a@x.com"
	testPassword = "secret"
)

type testEnv struct {
	rt       *runtime
	backend  *testutil.Backend
	provider *testutil.FakeProvider
}

// setupTest wires a runtime to an in-memory backend and identity provider
// that knows one confirmed user.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	backend := testutil.NewBackend(t)
	provider := testutil.NewFakeProvider()
	provider.AddUser(testEmail, testPassword)

	cfg := &config.Config{
		APIURL:   backend.URL(),
		S3Bucket: "bkt",
		Timezone: "UTC",
	}
	logger, level := newLogger(io.Discard)
	return &testEnv{
		rt:       newRuntime(cfg, provider, logger, level),
		backend:  backend,
		provider: provider,
	}
}

// run executes the CLI with args and returns what it printed to stdout.
// Stdin is an empty pipe unless stdin is given.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	oldStdin := os.Stdin
	stdinR, stdinW, _ := os.Pipe()
	os.Stdin = stdinR
	go func() {
		_, _ = stdinW.WriteString(stdin)
		stdinW.Close()
	}()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := newCLIApp(e.rt).Run(append([]string{"tcap"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout
	os.Stdin = oldStdin

	return buf.String(), err
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	if _, err := e.run(t, "", "login", "--email", testEmail, "--password", testPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func decodeOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	return v
}

func writePNG(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestCLITagsFlag checks that --tags is split, trimmed and cleared the same way everywhere.
func TestCLITagsFlag(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	_, err := e.run(t, "", "create", "--title", "Tagged", "--to", "me@example.com",
		"--date", "2031-01-01T09:00", "--message", "m", "--tags", " family ,, kids ,")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	stored := e.backend.Capsules()[0]
	if strings.Join(stored.Tags, "|") != "family|kids" {
		t.Errorf("created tags = %q, want [family kids]", stored.Tags)
	}

	if _, err := e.run(t, "", "update", "--tags", "", stored.ID); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got := e.backend.Capsules()[0].Tags; got == nil || len(got) != 0 {
		t.Errorf("cleared tags = %#v, want empty", got)
	}
}

// TestCLIAccountFlow walks register, verify, login, whoami and logout.
func TestCLIAccountFlow(t *testing.T) {
	e := setupTest(t)
	const email = "new@x.com"

	out, err := e.run(t, "", "register", "--email", email, "--password", "hunter22")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if msg := decodeOutput[messageOutput](t, out); !strings.HasPrefix(msg.Message, "Registration successful!") {
		t.Errorf("register message = %q", msg.Message)
	}

	if _, err := e.run(t, "", "login", "--email", email, "--password", "hunter22"); err == nil {
		t.Error("expected login before verification to fail")
	}

	if _, err := e.run(t, "", "verify", "--email", email, "--code", "000000"); err == nil || !strings.Contains(err.Error(), "[AUTH]") {
		t.Errorf("wrong code error = %v", err)
	}
	if _, err := e.run(t, "", "verify", "--email", email, "--code", testutil.VerificationCode); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	out, err = e.run(t, "", "login", "--email", email, "--password", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	sess := decodeOutput[sessionOutput](t, out)
	if !sess.LoggedIn || sess.Email != email || sess.ExpiresAt == nil {
		t.Errorf("login output = %+v", sess)
	}

	out, _ = e.run(t, "", "whoami")
	if got := decodeOutput[sessionOutput](t, out); got.Email != email {
		t.Errorf("whoami email = %q, want %q", got.Email, email)
	}

	out, err = e.run(t, "", "logout")
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if msg := decodeOutput[messageOutput](t, out); msg.Message != "Logged out successfully" {
		t.Errorf("logout message = %q", msg.Message)
	}
	if e.provider.Stored() != nil {
		t.Error("expected stored session to be cleared")
	}

	out, _ = e.run(t, "", "whoami")
	if got := decodeOutput[sessionOutput](t, out); got.LoggedIn {
		t.Error("expected whoami to report logged out")
	}
}

func TestCLILogin_PasswordFromStdin(t *testing.T) {
	e := setupTest(t)

	out, err := e.run(t, testPassword+"\n", "login", "--email", testEmail)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := decodeOutput[sessionOutput](t, out); !got.LoggedIn {
		t.Error("expected logged in")
	}
}

func TestCLIResendCode(t *testing.T) {
	e := setupTest(t)

	if _, err := e.run(t, "", "register", "--email", "p@x.com", "--password", "hunter22"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	out, err := e.run(t, "", "resend-code", "--email", "p@x.com")
	if err != nil {
		t.Fatalf("resend-code failed: %v", err)
	}
	if msg := decodeOutput[messageOutput](t, out); msg.Message != "Verification code resent!" {
		t.Errorf("message = %q", msg.Message)
	}
}

func TestCLI_RequiresLogin(t *testing.T) {
	e := setupTest(t)

	for _, args := range [][]string{
		{"list"},
		{"get", "cap-1"},
		{"create", "--title", "x"},
		{"update", "cap-1", "--title", "x"},
		{"delete", "cap-1"},
	} {
		_, err := e.run(t, "", args...)
		if err == nil || !strings.Contains(err.Error(), "[AUTH] Not logged in") {
			t.Errorf("%s: err = %v", args[0], err)
		}
	}
	if n := len(e.backend.Requests()); n != 0 {
		t.Errorf("backend saw %d requests without a session", n)
	}
}

// TestCLICapsuleLifecycle creates, lists, updates and deletes a capsule.
func TestCLICapsuleLifecycle(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	out, err := e.run(t, "",
		"create",
		"--title", "Dear future me",
		"--to", "me@example.com",
		"--date", "2031-01-01T09:00",
		"--message", "**Hello** there",
		"--tags", "self, 2031",
		"--file", writePNG(t, "one.png"),
		"--file", writePNG(t, "two.png"),
	)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	created := decodeOutput[ops.CreateOutput](t, out)
	if created.Capsule == nil || created.Capsule.ID == "" {
		t.Fatalf("create output = %s", out)
	}
	id := created.Capsule.ID

	stored := e.backend.Capsules()[0]
	if stored.ScheduledDate.String() != "2031-01-01T09:00:00.000Z" {
		t.Errorf("scheduled_date = %s", stored.ScheduledDate)
	}
	if len(stored.Attachments) != 2 || !strings.HasSuffix(stored.Attachments[0], "one.png") {
		t.Errorf("attachments = %v", stored.Attachments)
	}
	if len(stored.Tags) != 2 || stored.Tags[1] != "2031" {
		t.Errorf("tags = %v", stored.Tags)
	}

	t.Run("list", func(t *testing.T) {
		out, err := e.run(t, "", "list", "--status", "pending")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		list := decodeOutput[ops.ListOutput](t, out)
		if list.Count != 1 || list.Capsules[0].MessagePreview != "**Hello** there" {
			t.Errorf("list output = %+v", list)
		}
	})

	t.Run("get", func(t *testing.T) {
		out, err := e.run(t, "", "get", id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got := decodeOutput[capsule.Capsule](t, out); got.Title != "Dear future me" {
			t.Errorf("title = %q", got.Title)
		}
	})

	t.Run("update appends files", func(t *testing.T) {
		out, err := e.run(t, "", "update", id, "--title", "Dear older me", "--file", writePNG(t, "three.png"))
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if got := decodeOutput[ops.UpdateOutput](t, out); len(got.Attachments) != 3 {
			t.Errorf("attachments = %v, want 3", got.Attachments)
		}
		updated := e.backend.Capsules()[0]
		if updated.Title != "Dear older me" || updated.Message != "**Hello** there" {
			t.Errorf("updated capsule = %+v", updated)
		}
	})

	t.Run("delete", func(t *testing.T) {
		out, err := e.run(t, "", "delete", id)
		if err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if got := decodeOutput[ops.DeleteOutput](t, out); !got.Deleted {
			t.Error("expected deleted=true")
		}
		if len(e.backend.Capsules()) != 0 {
			t.Error("expected no capsules left")
		}
	})
}

// TestCLIUpdate_FlagOrder accepts flags on either side of the id.
func TestCLIUpdate_FlagOrder(t *testing.T) {
	tests := []struct {
		name string
		args func(id, file string) []string
	}{
		{"flags after id", func(id, file string) []string {
			return []string{"update", id, "--title", "Renamed", "--file", file}
		}},
		{"flags before id", func(id, file string) []string {
			return []string{"update", "--title", "Renamed", "--file", file, id}
		}},
		{"flags on both sides", func(id, file string) []string {
			return []string{"update", "-t", "Renamed", id, "-f", file}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupTest(t)
			e.login(t)
			c := e.backend.Add(capsule.Capsule{Title: "Original", Message: "kept", Attachments: []string{"a.png"}})

			out, err := e.run(t, "", tt.args(c.ID, writePNG(t, "b.png"))...)
			if err != nil {
				t.Fatalf("update failed: %v", err)
			}
			if got := decodeOutput[ops.UpdateOutput](t, out); len(got.Attachments) != 2 {
				t.Errorf("attachments = %v, want 2", got.Attachments)
			}
			updated := e.backend.Capsules()[0]
			if updated.Title != "Renamed" || updated.Message != "kept" {
				t.Errorf("updated capsule = %+v", updated)
			}
			if n := len(e.backend.RequestsTo("PUT", "/capsules/"+c.ID)); n != 1 {
				t.Errorf("PUT requests = %d, want 1", n)
			}
		})
	}
}

func TestCLICreate_MessageFromStdin(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	_, err := e.run(t, "A letter\nfor later\n",
		"create", "--title", "Piped", "--to", "me@example.com", "--date", "2031-01-01T09:00")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if got := e.backend.Capsules()[0].Message; got != "A letter\nfor later" {
		t.Errorf("message = %q", got)
	}
}

func TestCLIUpdate_DeliveredRefused(t *testing.T) {
	e := setupTest(t)
	e.login(t)
	c := e.backend.Add(capsule.Capsule{Title: "sent", Status: capsule.StatusDelivered})

	for _, args := range [][]string{
		{"update", c.ID, "--title", "changed"},
		{"delete", c.ID},
	} {
		_, err := e.run(t, "", args...)
		if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
			t.Errorf("%s: err = %v", args[0], err)
		}
	}
	if n := len(e.backend.RequestsTo("PUT", "/capsules/"+c.ID)) + len(e.backend.RequestsTo("DELETE", "/capsules/"+c.ID)); n != 0 {
		t.Errorf("delivered capsule reached the backend %d times", n)
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	e := setupTest(t)
	e.login(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"get not found", []string{"get", "nope"}, "[API] Capsule not found"},
		{"delete without id", []string{"delete"}, "[VALIDATION] id is required"},
		{"past date", []string{"create", "--title", "t", "--to", "me@example.com", "--message", "m", "--date", "2001-01-01T00:00"}, "[VALIDATION]"},
		{"bad date", []string{"create", "--date", "tomorrow"}, "[VALIDATION] invalid scheduled date"},
		{"bad status", []string{"list", "--status", "lost"}, "[VALIDATION] invalid status"},
		{"missing file", []string{"create", "--file", "/does/not/exist.png"}, "[VALIDATION] cannot read"},
		{"nothing to update", func() []string {
			c := e.backend.Add(capsule.Capsule{Title: "t"})
			return []string{"update", c.ID}
		}(), "[VALIDATION] nothing to update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// cli.Exit writes to stderr, so just verify the error is returned
			_, err := e.run(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestVerboseRaisesLogLevel(t *testing.T) {
	e := setupTest(t)

	if _, err := e.run(t, "", "--verbose", "whoami"); err != nil {
		t.Fatalf("whoami failed: %v", err)
	}
	if got := e.rt.level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"config fields", errors.NewConfig("Configuration incomplete. Please check the deployment.", "api_url", "client_id"),
			"[CONFIG] Configuration incomplete. Please check the deployment. (check: api_url, client_id)"},
		{"validation", errors.NewValidation("Title is required"), "[VALIDATION] Title is required"},
		{"plain", io.ErrUnexpectedEOF, "unexpected EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describe(tt.err); got != tt.want {
				t.Errorf("describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"tcap"}, expected: false},
		{name: "list command", args: []string{"tcap", "list"}, expected: true},
		{name: "serve command", args: []string{"tcap", "serve"}, expected: true},
		{name: "verbose flag", args: []string{"tcap", "--verbose", "list"}, expected: true},
		{name: "help flag", args: []string{"tcap", "--help"}, expected: true},
		{name: "version flag", args: []string{"tcap", "--version"}, expected: true},
		{name: "short help flag", args: []string{"tcap", "-h"}, expected: true},
		{name: "short version flag", args: []string{"tcap", "-v"}, expected: true},
		{name: "unknown arg defaults to MCP", args: []string{"tcap", "--unknown"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"tcap"}, expected: false},
		{name: "help flag", args: []string{"tcap", "--help"}, expected: true},
		{name: "short help flag", args: []string{"tcap", "-h"}, expected: true},
		{name: "version flag", args: []string{"tcap", "--version"}, expected: true},
		{name: "short version flag", args: []string{"tcap", "-v"}, expected: true},
		{name: "help subcommand", args: []string{"tcap", "help"}, expected: true},
		{name: "login command is not help", args: []string{"tcap", "login"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestHelpWithoutRuntime checks help output needs no config or database.
func TestHelpWithoutRuntime(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := newCLIApp(nil).Run([]string{"tcap", "--help"})

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, cmd := range []string{"register", "login", "create", "serve"} {
		if !strings.Contains(buf.String(), cmd) {
			t.Errorf("help output missing %q", cmd)
		}
	}
}

// TestReadStdinWithLimit tests the readStdin function respects size limits.
func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		content := "small content"
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}

		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		result, err := readStdin(1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != content {
			t.Errorf("expected %q, got %q", content, result)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		content := strings.Repeat("x", 100)
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}

		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		// Limit is 50 bytes, content is 100
		if _, err = readStdin(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}
