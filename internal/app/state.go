package app

import (
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/upload"
)

// View is the top-level screen.
type View string

const (
	ViewLanding   View = "landing"
	ViewDashboard View = "dashboard"
	ViewFeatures  View = "features"
)

// AuthForm is the form shown inside the auth modal.
type AuthForm string

const (
	AuthLogin    AuthForm = "login"
	AuthRegister AuthForm = "register"
	AuthVerify   AuthForm = "verify"
)

// Editor is the open capsule modal.
type Editor struct {
	// Editing is the capsule being edited, or nil when creating.
	Editing *capsule.Capsule

	Form capsule.Form

	// MinScheduled is the earliest value the date field accepts (now + 1 minute).
	MinScheduled string

	originalLocal   string
	originalDate    capsule.Timestamp
	originalMessage string
	messageIsStub   bool // the list only had a preview, not the full message
}

// Title is the modal heading.
func (e *Editor) Title() string {
	if e.Editing != nil {
		return "Edit Time Capsule"
	}
	return "Create Time Capsule"
}

// State is a snapshot of everything the presentation layer renders.
type State struct {
	View View

	AuthModalOpen bool
	AuthForm      AuthForm
	PendingEmail  string // remembered between register and verify

	UserEmail string // "" when logged out

	Editor    *Editor       // nil when the capsule modal is closed
	Selection []upload.File // files chosen in the open editor
	Progress  *upload.Progress

	Capsules []capsule.Capsule // the displayed page only
	LastKey  string            // cursor for the next page, "" on the last page

	Loading bool
}

// LoggedIn reports whether a user is signed in.
func (s State) LoggedIn() bool {
	return s.UserEmail != ""
}

// clone returns a copy safe to hand to another goroutine.
func (s State) clone() State {
	out := s
	if s.Editor != nil {
		ed := *s.Editor
		out.Editor = &ed
	}
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	out.Selection = append([]upload.File(nil), s.Selection...)
	out.Capsules = append([]capsule.Capsule(nil), s.Capsules...)
	return out
}
