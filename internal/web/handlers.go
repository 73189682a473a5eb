package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/tcap/internal/app"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/upload"
)

// maxFormBytes bounds a capsule form: MaxFiles full-size images plus headroom.
const maxFormBytes = (upload.MaxFiles+1)*upload.MaxFileSize + 1<<20

// filesField is the multipart field holding selected images.
const filesField = "attachments"

// Handlers contains HTTP route handlers for the web UI.
// Every POST dispatches one intent and redirects back to GET /.
type Handlers struct {
	app      *app.App
	flash    *Flash
	renderer *Renderer
}

// HandleIndex handles GET /. It renders whichever view the controller is on.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	s := h.app.State()
	pd := h.renderer.pageData(s, h.flash.Drain())

	switch s.View {
	case app.ViewDashboard:
		h.renderer.renderPage(w, r, "dashboard", DashboardPageData{
			PageData: pd,
			List:     app.BuildListView(s.Capsules, h.renderer.loc),
			HasMore:  s.LastKey != "",
		})
	case app.ViewFeatures:
		h.renderer.renderPage(w, r, "features", pd)
	default:
		h.renderer.renderPage(w, r, "landing", pd)
	}
}

// HandleOpenAuth handles POST /auth/open. It shows the auth modal on form=login|register|verify.
func (h *Handlers) HandleOpenAuth(w http.ResponseWriter, r *http.Request) {
	form := app.AuthForm(r.FormValue("form"))
	switch form {
	case "", app.AuthLogin, app.AuthRegister, app.AuthVerify:
	default:
		h.renderer.renderError(w, r, errors.NewValidation(fmt.Sprintf("unknown auth form %q", form)))
		return
	}
	h.dispatch(w, r, app.SwitchAuth{Form: form})
}

// HandleLogin handles POST /auth/login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, app.LoginSubmitted{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
	})
}

// HandleRegister handles POST /auth/register.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, app.RegisterSubmitted{
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	})
}

// HandleVerify handles POST /auth/verify. An empty email uses the pending one.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, app.VerifySubmitted{
		Email: r.FormValue("email"),
		Code:  strings.TrimSpace(r.FormValue("code")),
	})
}

// HandleEdit handles POST /capsules/{id}/edit, opening the modal on an existing capsule.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, app.OpenEditor{ID: r.PathValue("id")})
}

// HandleDelete handles POST /capsules/{id}/delete.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, app.DeleteRequested{ID: r.PathValue("id")})
}

// HandleSelectFiles handles POST /editor/files and replaces the selection with the uploaded files.
func (h *Handlers) HandleSelectFiles(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.dispatch(w, r, app.FilesSelected{Files: files})
}

// HandleRemoveFile handles POST /editor/files/{index}/remove.
func (h *Handlers) HandleRemoveFile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewValidation("file index must be an integer"))
		return
	}
	h.dispatch(w, r, app.FileRemoved{Index: index})
}

// HandleSubmit handles POST /editor/submit. Files attached to the form replace
// the selection before the capsule is submitted.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if len(files) > 0 {
		if err := h.app.Dispatch(r.Context(), app.FilesSelected{Files: files}); err != nil {
			h.respond(w, r, err)
			return
		}
	}
	h.dispatch(w, r, app.CapsuleSubmitted{Form: capsule.Form{
		Title:          r.FormValue("title"),
		Occasion:       r.FormValue("occasion"),
		RecipientEmail: r.FormValue("recipient_email"),
		ScheduledLocal: r.FormValue("scheduled_date"),
		Message:        r.FormValue("message"),
		Tags:           r.FormValue("tags"),
	}})
}

// intent returns a handler that dispatches a fixed intent.
func (h *Handlers) intent(in app.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(w, r, in)
	}
}

func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request, in app.Intent) {
	h.respond(w, r, h.app.Dispatch(r.Context(), in))
}

// respond finishes a POST. Failures were already queued as toasts by the
// controller, so HTML clients are redirected either way.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, err error) {
	if wantsJSON(r) {
		status := http.StatusOK
		var tErr *errors.TcapError
		if errors.As(err, &tErr) {
			status = tErr.Status
		} else if err != nil {
			status = http.StatusInternalServerError
		}
		renderJSON(w, status, map[string]any{
			"ok":     err == nil,
			"view":   h.app.State().View,
			"toasts": h.flash.Drain(),
		})
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// readFiles reads the multipart file parts. Oversized parts are described but
// not read so the controller can reject them by name. A non-multipart body has no files.
func readFiles(w http.ResponseWriter, r *http.Request) ([]upload.File, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, errors.NewValidation(fmt.Sprintf("invalid form data: %v", err))
	}

	var files []upload.File
	for _, fh := range r.MultipartForm.File[filesField] {
		if fh.Filename == "" {
			continue
		}
		ct := fh.Header.Get("Content-Type")
		if fh.Size > upload.MaxFileSize {
			files = append(files, upload.Oversized(fh.Filename, ct, fh.Size))
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, errors.NewValidation(fmt.Sprintf("cannot read %s: %v", fh.Filename, err))
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.NewValidation(fmt.Sprintf("cannot read %s: %v", fh.Filename, err))
		}
		files = append(files, upload.FromBytes(fh.Filename, ct, data))
	}
	return files, nil
}
