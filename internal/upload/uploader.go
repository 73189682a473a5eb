package upload

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hpungsan/tcap/internal/api"
	"github.com/hpungsan/tcap/internal/errors"
)

// Backend is the upload endpoint. *api.Client satisfies it.
type Backend interface {
	Upload(ctx context.Context, req api.UploadRequest) (*api.UploadResult, error)
}

// Progress is reported after each completed upload. Index is 1-based.
type Progress struct {
	Index    int
	Total    int
	FileName string
}

// String renders the progress line shown while uploading.
func (p Progress) String() string {
	return fmt.Sprintf("Uploaded %s (%d/%d)", p.FileName, p.Index, p.Total)
}

// Percent returns completion in [0, 100].
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Index * 100 / p.Total
}

// Uploader posts files to the backend and derives their public URLs.
type Uploader struct {
	backend Backend
	bucket  string
	logger  *slog.Logger
}

// NewUploader creates an uploader whose URLs point into bucket.
func NewUploader(backend Backend, bucket string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{backend: backend, bucket: bucket, logger: logger}
}

// ObjectURL derives the public URL of an uploaded object.
func ObjectURL(bucket, fileKey string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, strings.TrimPrefix(fileKey, "/"))
}

// DataURL encodes f as a base64 data URL.
func DataURL(f File) (string, error) {
	if f.Data == nil {
		return "", fmt.Errorf("%s has no content", f.Name)
	}
	return "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data), nil
}

// UploadOne uploads f and returns its object URL. Failures are UPLOAD errors.
func (u *Uploader) UploadOne(ctx context.Context, f File) (string, error) {
	data, err := DataURL(f)
	if err != nil {
		return "", errors.NewUpload(f.Name, err)
	}

	res, err := u.backend.Upload(ctx, api.UploadRequest{
		FileData:    data,
		FileName:    f.Name,
		ContentType: f.ContentType,
	})
	if err != nil {
		return "", errors.NewUpload(f.Name, err)
	}
	if res.FileKey == "" {
		return "", errors.NewUpload(f.Name, fmt.Errorf("server returned no file key"))
	}

	url := ObjectURL(u.bucket, res.FileKey)
	u.logger.Debug("uploaded attachment", "file", f.Name, "size", f.Size, "url", url)
	return url, nil
}

// UploadMany uploads files one at a time, in order, and returns their URLs in
// the same order. The first failure aborts the batch; later files are not sent.
// onProgress may be nil.
func (u *Uploader) UploadMany(ctx context.Context, files []File, onProgress func(Progress)) ([]string, error) {
	urls := make([]string, 0, len(files))
	for i, f := range files {
		url, err := u.UploadOne(ctx, f)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
		if onProgress != nil {
			onProgress(Progress{Index: i + 1, Total: len(files), FileName: f.Name})
		}
	}
	return urls, nil
}
