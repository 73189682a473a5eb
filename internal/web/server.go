package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/tcap/internal/app"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the tcap dashboard. flash must be the
// notifier a was built with so toasts reach the next rendered page.
func NewServer(a *app.App, flash *Flash, version, bind string, port int) *http.Server {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	h := &Handlers{
		app:      a,
		flash:    flash,
		renderer: NewRenderer(templateSub, version, a.Location()),
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           securityHeaders(h.routes(staticSub)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handlers) routes(static fs.FS) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)

	mux.HandleFunc("POST /auth/open", h.HandleOpenAuth)
	mux.HandleFunc("POST /auth/close", h.intent(app.CloseAuth{}))
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/register", h.HandleRegister)
	mux.HandleFunc("POST /auth/verify", h.HandleVerify)
	mux.HandleFunc("POST /auth/resend", h.intent(app.ResendRequested{}))
	mux.HandleFunc("POST /logout", h.intent(app.Logout{}))

	mux.HandleFunc("POST /features", h.intent(app.LearnMore{}))
	mux.HandleFunc("POST /back", h.intent(app.Back{}))
	mux.HandleFunc("POST /get-started", h.intent(app.GetStarted{}))

	mux.HandleFunc("POST /capsules/new", h.intent(app.OpenEditor{}))
	mux.HandleFunc("POST /capsules/refresh", h.intent(app.Refresh{}))
	mux.HandleFunc("POST /capsules/next", h.intent(app.NextPage{}))
	mux.HandleFunc("POST /capsules/{id}/edit", h.HandleEdit)
	mux.HandleFunc("POST /capsules/{id}/delete", h.HandleDelete)

	mux.HandleFunc("POST /editor/close", h.intent(app.CloseEditor{}))
	mux.HandleFunc("POST /editor/files", h.HandleSelectFiles)
	mux.HandleFunc("POST /editor/files/{index}/remove", h.HandleRemoveFile)
	mux.HandleFunc("POST /editor/submit", h.HandleSubmit)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
// Thumbnails are served from the attachment bucket, hence img-src https:.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' https:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("tcap dashboard running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces; anyone on the network can act as the logged-in user")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
