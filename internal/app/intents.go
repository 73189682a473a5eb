package app

import (
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/upload"
)

// Intent is a discrete UI event handed to Dispatch.
type Intent interface {
	intent()
}

// Start checks for a persisted session at startup.
type Start struct{}

// ShowAuth opens the auth modal on Form (login when empty).
type ShowAuth struct{ Form AuthForm }

// SwitchAuth changes the form inside the open auth modal.
type SwitchAuth struct{ Form AuthForm }

// CloseAuth closes the auth modal.
type CloseAuth struct{}

// LoginSubmitted is the login form submission.
type LoginSubmitted struct {
	Email    string
	Password string
}

// RegisterSubmitted is the register form submission.
type RegisterSubmitted struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// VerifySubmitted is the verification form submission.
// An empty Email uses the remembered pending email.
type VerifySubmitted struct {
	Email string
	Code  string
}

// ResendRequested asks for a new verification code.
type ResendRequested struct{}

// Logout signs the user out.
type Logout struct{}

// LearnMore shows the features view.
type LearnMore struct{}

// Back returns to the landing view.
type Back struct{}

// GetStarted goes to the dashboard when logged in, otherwise opens login.
type GetStarted struct{}

// OpenEditor opens the capsule modal. An empty ID creates a new capsule.
type OpenEditor struct{ ID string }

// CloseEditor closes the capsule modal and clears the file selection.
type CloseEditor struct{}

// FilesSelected replaces the file selection.
type FilesSelected struct{ Files []upload.File }

// FileRemoved drops one file from the selection.
type FileRemoved struct{ Index int }

// CapsuleSubmitted submits the capsule modal.
type CapsuleSubmitted struct{ Form capsule.Form }

// DeleteRequested deletes a displayed capsule.
type DeleteRequested struct{ ID string }

// Refresh reloads the first page of capsules.
type Refresh struct{}

// NextPage loads the page after the displayed one.
type NextPage struct{}

func (Start) intent()             {}
func (ShowAuth) intent()          {}
func (SwitchAuth) intent()        {}
func (CloseAuth) intent()         {}
func (LoginSubmitted) intent()    {}
func (RegisterSubmitted) intent() {}
func (VerifySubmitted) intent()   {}
func (ResendRequested) intent()   {}
func (Logout) intent()            {}
func (LearnMore) intent()         {}
func (Back) intent()              {}
func (GetStarted) intent()        {}
func (OpenEditor) intent()        {}
func (CloseEditor) intent()       {}
func (FilesSelected) intent()     {}
func (FileRemoved) intent()       {}
func (CapsuleSubmitted) intent()  {}
func (DeleteRequested) intent()   {}
func (Refresh) intent()           {}
func (NextPage) intent()          {}
