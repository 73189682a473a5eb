// Package ops holds the capsule workflows shared by every front end.
package ops

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/hpungsan/tcap/internal/api"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/upload"
)

// Pagination limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

var errNoUploader = stderrors.New("no uploader configured")

// Backend is the REST surface the workflows call. *api.Client satisfies it.
type Backend interface {
	ListCapsules(ctx context.Context, opts api.ListOptions) (*api.ListResult, error)
	CreateCapsule(ctx context.Context, d capsule.Draft) (*capsule.Capsule, error)
	UpdateCapsule(ctx context.Context, id string, p capsule.Patch) (*api.Ack, error)
	DeleteCapsule(ctx context.Context, id string) error
}

// Attacher uploads files in order. *upload.Uploader satisfies it.
type Attacher interface {
	UploadMany(ctx context.Context, files []upload.File, onProgress func(upload.Progress)) ([]string, error)
}

// Deps are the collaborators a workflow needs.
type Deps struct {
	Backend  Backend
	Uploader Attacher
	Logger   *slog.Logger
	Now      func() time.Time // defaults to time.Now
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
