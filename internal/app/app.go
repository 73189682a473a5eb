// Package app is the capsule view controller: an explicit state machine driven
// by UI intents. Presentation layers dispatch intents and render State.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/identity"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/upload"
)

// Sessions is the session manager surface the controller drives.
// *session.Manager satisfies it.
type Sessions interface {
	Register(ctx context.Context, email, password string) error
	VerifyEmail(ctx context.Context, email, code string) error
	ResendVerificationCode(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*identity.Session, error)
	Logout(ctx context.Context)
	CurrentSession(ctx context.Context) *identity.Session
	PendingEmail() string
}

// Options configures an App.
type Options struct {
	Location *time.Location   // zone for form dates; defaults to time.Local
	Now      func() time.Time // defaults to time.Now
	Logger   *slog.Logger
}

// App owns the application state. One App is built per process.
// Dispatch calls are serialized.
type App struct {
	sessions Sessions
	deps     ops.Deps
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger

	mu           sync.Mutex
	state        State
	loadingDepth int
	subscribers  []func(State)
}

// New creates an App on the landing view.
func New(sessions Sessions, deps ops.Deps, notifier Notifier, opts Options) *App {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Toast) {})
	}
	if deps.Now == nil {
		deps.Now = opts.Now
	}
	return &App{
		sessions: sessions,
		deps:     deps,
		notifier: notifier,
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
		state: State{
			View:     ViewLanding,
			AuthForm: AuthLogin,
		},
	}
}

// State returns a snapshot of the current state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Location is the zone form dates are shown in.
func (a *App) Location() *time.Location {
	return a.loc
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs with the dispatcher lock held and must not call Dispatch.
func (a *App) Subscribe(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// Dispatch handles one intent. Failures are shown as error toasts and also returned.
func (a *App) Dispatch(ctx context.Context, in Intent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.handle(ctx, in)
	if err != nil {
		a.notifier.Notify(Toast{Kind: ToastError, Message: errorMessage(in, err)})
	}
	a.emit()
	return err
}

func (a *App) handle(ctx context.Context, in Intent) error {
	switch in := in.(type) {
	case Start:
		return a.start(ctx)
	case ShowAuth:
		a.showAuth(in.Form)
	case SwitchAuth:
		a.showAuth(in.Form)
	case CloseAuth:
		a.state.AuthModalOpen = false
		a.state.AuthForm = AuthLogin
	case LoginSubmitted:
		return a.login(ctx, in)
	case RegisterSubmitted:
		return a.register(ctx, in)
	case VerifySubmitted:
		return a.verify(ctx, in)
	case ResendRequested:
		return a.resend(ctx)
	case Logout:
		a.logout(ctx)
	case LearnMore:
		a.state.View = ViewFeatures
	case Back:
		a.state.View = ViewLanding
	case GetStarted:
		if a.state.LoggedIn() {
			a.enterDashboard(ctx)
			return nil
		}
		a.showAuth(AuthLogin)
	case OpenEditor:
		return a.openEditor(in.ID)
	case CloseEditor:
		a.closeEditor()
	case FilesSelected:
		return a.selectFiles(in.Files)
	case FileRemoved:
		return a.removeFile(in.Index)
	case CapsuleSubmitted:
		return a.submit(ctx, in.Form)
	case DeleteRequested:
		return a.deleteCapsule(ctx, in.ID)
	case Refresh:
		return a.loadCapsules(ctx, "")
	case NextPage:
		if a.state.LastKey == "" {
			a.info("No more capsules")
			return nil
		}
		return a.loadCapsules(ctx, a.state.LastKey)
	default:
		return errors.NewInternal(fmt.Errorf("unknown intent %T", in))
	}
	return nil
}

// beginLoading shows the loading indicator; the returned func hides it.
// Use as `defer a.beginLoading()()` so every exit path releases it.
func (a *App) beginLoading() func() {
	a.loadingDepth++
	a.state.Loading = true
	a.emit()
	return func() {
		a.loadingDepth--
		a.state.Loading = a.loadingDepth > 0
	}
}

func (a *App) emit() {
	if len(a.subscribers) == 0 {
		return
	}
	snap := a.state.clone()
	for _, fn := range a.subscribers {
		fn(snap)
	}
}

func (a *App) info(msg string)    { a.notifier.Notify(Toast{Kind: ToastInfo, Message: msg}) }
func (a *App) success(msg string) { a.notifier.Notify(Toast{Kind: ToastSuccess, Message: msg}) }

// errorMessage prefixes err with what the user was doing.
func errorMessage(in Intent, err error) string {
	msg := errors.Message(err)
	if errors.Is(err, errors.ErrValidation) {
		return msg
	}
	switch in.(type) {
	case LoginSubmitted:
		return "Login failed: " + msg
	case RegisterSubmitted:
		return "Registration failed: " + msg
	case VerifySubmitted:
		return "Verification failed: " + msg
	case ResendRequested:
		return "Failed to resend code: " + msg
	case CapsuleSubmitted:
		return "Failed to save capsule: " + msg
	case DeleteRequested:
		return "Failed to delete capsule: " + msg
	case Refresh, NextPage:
		return "Failed to load capsules: " + msg
	}
	return msg
}

func requireLogin(s *State) error {
	if !s.LoggedIn() {
		return errors.NewValidation("Please log in first")
	}
	return nil
}

// start rehydrates a persisted session.
func (a *App) start(ctx context.Context) error {
	defer a.beginLoading()()

	sess := a.sessions.CurrentSession(ctx)
	if sess == nil {
		a.state.UserEmail = ""
		a.state.View = ViewLanding
		return nil
	}
	a.state.UserEmail = sess.Email
	a.enterDashboard(ctx)
	return nil
}

func (a *App) showAuth(form AuthForm) {
	if form == "" {
		form = AuthLogin
	}
	a.state.AuthModalOpen = true
	a.state.AuthForm = form
}

func (a *App) login(ctx context.Context, in LoginSubmitted) error {
	defer a.beginLoading()()

	sess, err := a.sessions.Login(ctx, in.Email, in.Password)
	if err != nil {
		return err
	}
	a.state.UserEmail = sess.Email
	a.state.PendingEmail = ""
	a.state.AuthModalOpen = false
	a.state.AuthForm = AuthLogin
	a.success("Login successful!")
	a.enterDashboard(ctx)
	return nil
}

func (a *App) register(ctx context.Context, in RegisterSubmitted) error {
	if in.Password != in.ConfirmPassword {
		return errors.NewValidation("Passwords do not match")
	}
	defer a.beginLoading()()

	if err := a.sessions.Register(ctx, in.Email, in.Password); err != nil {
		return err
	}
	a.state.PendingEmail = a.sessions.PendingEmail()
	a.state.AuthModalOpen = true
	a.state.AuthForm = AuthVerify
	a.success("Registration successful! Please check your email for verification.")
	return nil
}

func (a *App) verify(ctx context.Context, in VerifySubmitted) error {
	email := in.Email
	if email == "" {
		email = a.state.PendingEmail
	}
	if email == "" {
		return errors.NewValidation("No pending verification email found")
	}
	defer a.beginLoading()()

	if err := a.sessions.VerifyEmail(ctx, email, in.Code); err != nil {
		return err
	}
	a.state.PendingEmail = ""
	a.state.AuthForm = AuthLogin
	a.state.AuthModalOpen = false
	a.success("Email verified successfully! You can now log in.")
	return nil
}

func (a *App) resend(ctx context.Context) error {
	if !a.state.AuthModalOpen || a.state.AuthForm != AuthVerify {
		return errors.NewValidation("Resend is only available while verifying")
	}
	if a.state.PendingEmail == "" {
		return errors.NewValidation("No pending verification email found")
	}
	defer a.beginLoading()()

	if err := a.sessions.ResendVerificationCode(ctx, a.state.PendingEmail); err != nil {
		return err
	}
	a.success("Verification code resent!")
	return nil
}

// logout always ends on the landing view with no user, whatever the provider says.
func (a *App) logout(ctx context.Context) {
	a.sessions.Logout(ctx)

	a.state.UserEmail = ""
	a.state.PendingEmail = ""
	a.state.View = ViewLanding
	a.state.Capsules = nil
	a.state.LastKey = ""
	a.state.AuthModalOpen = false
	a.state.AuthForm = AuthLogin
	a.closeEditor()
	a.success("Logged out successfully")
}

// enterDashboard switches to the dashboard and always refreshes the list.
func (a *App) enterDashboard(ctx context.Context) {
	a.state.View = ViewDashboard
	a.reload(ctx)
}

// reload refreshes the first page after a flow that already succeeded.
// A failed refresh is reported on its own and does not fail the flow.
func (a *App) reload(ctx context.Context) {
	if err := a.loadCapsules(ctx, ""); err != nil {
		a.notifier.Notify(Toast{Kind: ToastError, Message: errorMessage(Refresh{}, err)})
	}
}

func (a *App) loadCapsules(ctx context.Context, lastKey string) error {
	if err := requireLogin(&a.state); err != nil {
		return err
	}
	defer a.beginLoading()()

	out, err := ops.List(ctx, a.deps, ops.ListInput{LastKey: lastKey})
	if err != nil {
		return err
	}
	a.state.Capsules = out.Capsules
	a.state.LastKey = out.LastKey
	return nil
}

func (a *App) find(id string) (*capsule.Capsule, error) {
	for i := range a.state.Capsules {
		if a.state.Capsules[i].ID == id {
			c := a.state.Capsules[i]
			return &c, nil
		}
	}
	return nil, errors.NewValidation("Capsule not found in the displayed list")
}

func (a *App) openEditor(id string) error {
	if err := requireLogin(&a.state); err != nil {
		return err
	}
	now := a.now()
	ed := &Editor{MinScheduled: capsule.MinScheduled(now, a.loc)}

	if id != "" {
		c, err := a.find(id)
		if err != nil {
			return err
		}
		if !c.Status.Editable() {
			return errors.NewValidation(fmt.Sprintf("Only pending capsules can be edited (this one is %s)", c.Status))
		}
		ed.Editing = c
		ed.Form = capsule.FormFromCapsule(c, a.loc)
		ed.originalLocal = ed.Form.ScheduledLocal
		ed.originalDate = c.ScheduledDate
		ed.originalMessage = ed.Form.Message
		ed.messageIsStub = c.Message == ""
	}

	a.state.Editor = ed
	a.state.Selection = nil
	a.state.Progress = nil
	return nil
}

func (a *App) closeEditor() {
	a.state.Editor = nil
	a.state.Selection = nil
	a.state.Progress = nil
}

// selectFiles replaces the selection with the valid files. A selection over
// the limit is refused whole; invalid files are reported one toast each.
func (a *App) selectFiles(files []upload.File) error {
	if a.state.Editor == nil {
		return errors.NewValidation("Open a capsule before attaching files")
	}
	accepted, rejected, err := upload.Validate(files)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		a.notifier.Notify(Toast{Kind: ToastError, Message: r.Reason})
	}
	if len(accepted) == 0 {
		return nil
	}
	a.state.Selection = accepted
	return nil
}

func (a *App) removeFile(index int) error {
	if index < 0 || index >= len(a.state.Selection) {
		return errors.NewValidation(fmt.Sprintf("no selected file at position %d", index+1))
	}
	sel := append([]upload.File(nil), a.state.Selection[:index]...)
	a.state.Selection = append(sel, a.state.Selection[index+1:]...)
	return nil
}

// submit runs the capsule submission flow. On any failure the modal stays open.
func (a *App) submit(ctx context.Context, form capsule.Form) error {
	ed := a.state.Editor
	if ed == nil {
		return errors.NewValidation("No capsule form is open")
	}
	ed.Form = form

	draft, err := a.draftFrom(ed, form)
	if err != nil {
		return err
	}

	defer a.beginLoading()()
	onProgress := func(p upload.Progress) {
		a.state.Progress = &p
		a.emit()
	}

	if ed.Editing == nil {
		_, err = ops.Create(ctx, a.deps, ops.CreateInput{
			Draft:      draft,
			Files:      a.state.Selection,
			OnProgress: onProgress,
		})
	} else {
		_, err = ops.Update(ctx, a.deps, ops.UpdateInput{
			ID:         ed.Editing.ID,
			Current:    ed.Editing,
			Patch:      a.patchFrom(ed, draft),
			Files:      a.state.Selection,
			OnProgress: onProgress,
		})
	}
	if err != nil {
		a.state.Progress = nil
		return err
	}

	created := ed.Editing == nil
	a.closeEditor()
	if created {
		a.success("Time capsule created successfully!")
	} else {
		a.success("Time capsule updated successfully!")
	}
	a.reload(ctx)
	return nil
}

// draftFrom builds the payload. An untouched date field on an edit resubmits
// the original instant exactly rather than the minute-rounded local value.
func (a *App) draftFrom(ed *Editor, form capsule.Form) (capsule.Draft, error) {
	draft, err := form.Draft(a.loc, nil)
	if err != nil {
		return capsule.Draft{}, err
	}
	if ed.Editing != nil && !ed.originalDate.IsZero() && form.ScheduledLocal == ed.originalLocal {
		draft.ScheduledDate = ed.originalDate
	}
	return draft, nil
}

// patchFrom turns an edit draft into a full update that keeps existing
// attachments. A message field still holding only the list preview is left out.
func (a *App) patchFrom(ed *Editor, draft capsule.Draft) capsule.Patch {
	draft.Attachments = append([]string{}, ed.Editing.Attachments...)
	p := draft.Patch()
	if ed.messageIsStub && draft.Message == ed.originalMessage {
		p.Message = nil
	}
	return p
}

func (a *App) deleteCapsule(ctx context.Context, id string) error {
	if err := requireLogin(&a.state); err != nil {
		return err
	}
	c, err := a.find(id)
	if err != nil {
		return err
	}
	defer a.beginLoading()()

	if _, err := ops.Delete(ctx, a.deps, ops.DeleteInput{ID: id, Current: c}); err != nil {
		return err
	}
	a.success("Capsule deleted successfully")
	a.reload(ctx)
	return nil
}
