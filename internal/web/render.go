package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/tcap/internal/app"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/upload"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title     string
	Version   string
	Nav       string // active view: "landing", "dashboard", "features"
	UserEmail string
	Loading   bool
	Toasts    []ToastView
	Auth      *AuthView   // nil when the auth modal is closed
	Editor    *EditorView // nil when the capsule modal is closed
}

// ToastView is a toast with its icon resolved.
type ToastView struct {
	Kind    app.ToastKind
	Message string
	Icon    string
}

// AuthView is the template data for the auth modal.
type AuthView struct {
	Form         app.AuthForm
	Heading      string
	PendingEmail string
}

// EditorView is the template data for the capsule modal.
type EditorView struct {
	Heading      string
	ID           string // "" when creating
	Form         capsule.Form
	MinScheduled string
	Existing     []string // attachment URLs kept on an edit
	Files        []SelectedFile
	Progress     string
	MaxFiles     int
}

// SelectedFile is one entry of the pending attachment list.
type SelectedFile struct {
	Index int
	Name  string
	Size  string
}

// DashboardPageData is the template data for the dashboard.
type DashboardPageData struct {
	PageData
	List    app.ListView
	HasMore bool
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	loc       *time.Location
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
// Dates on cards are shown in loc.
func NewRenderer(templateFS fs.FS, version string, loc *time.Location) *Renderer {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"add":      func(a, b int) int { return a + b },
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html", "partials.html"))

	pages := map[string]string{
		"landing":   "landing.html",
		"dashboard": "dashboard.html",
		"features":  "features.html",
		"error":     "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		loc:       loc,
	}
}

// pageData builds the shared fields from a state snapshot and the queued toasts.
func (r *Renderer) pageData(s app.State, toasts []app.Toast) PageData {
	pd := PageData{
		Title:     titles[s.View],
		Version:   r.version,
		Nav:       string(s.View),
		UserEmail: s.UserEmail,
		Loading:   s.Loading,
	}
	for _, t := range toasts {
		pd.Toasts = append(pd.Toasts, ToastView{Kind: t.Kind, Message: t.Message, Icon: toastIcons[t.Kind]})
	}
	if s.AuthModalOpen {
		pd.Auth = &AuthView{
			Form:         s.AuthForm,
			Heading:      authHeadings[s.AuthForm],
			PendingEmail: s.PendingEmail,
		}
	}
	if s.Editor != nil {
		pd.Editor = editorView(s)
	}
	return pd
}

var titles = map[app.View]string{
	app.ViewLanding:   "Time Capsule",
	app.ViewDashboard: "My Time Capsules",
	app.ViewFeatures:  "Features",
}

var authHeadings = map[app.AuthForm]string{
	app.AuthLogin:    "Log In",
	app.AuthRegister: "Create Account",
	app.AuthVerify:   "Verify Email",
}

var toastIcons = map[app.ToastKind]string{
	app.ToastSuccess: "check-circle",
	app.ToastError:   "exclamation-circle",
	app.ToastInfo:    "info-circle",
}

func editorView(s app.State) *EditorView {
	ed := s.Editor
	v := &EditorView{
		Heading:      ed.Title(),
		Form:         ed.Form,
		MinScheduled: ed.MinScheduled,
		MaxFiles:     upload.MaxFiles,
	}
	if ed.Editing != nil {
		v.ID = ed.Editing.ID
		v.Existing = ed.Editing.Attachments
	}
	for i, f := range s.Selection {
		v.Files = append(v.Files, SelectedFile{Index: i, Name: f.Name, Size: formatSize(f.Size)})
	}
	if s.Progress != nil {
		v.Progress = s.Progress.String()
	}
	return v
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var tErr *errors.TcapError
	if !errors.As(err, &tErr) {
		tErr = errors.NewInternal(err)
	}

	status := tErr.Status
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	message := tErr.Message

	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(tErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts a message preview to HTML. Raw HTML in the
// message is not passed through.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatSize renders a byte count as B, KB or MB.
func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
