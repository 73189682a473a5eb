// Package upload validates and uploads image attachments.
package upload

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/tcap/internal/errors"
)

const (
	// MaxFiles is the most files one selection may hold.
	MaxFiles = 5

	// MaxFileSize is the per-file limit (10MB), matching the backend's check.
	MaxFileSize = 10 * 1024 * 1024
)

// File is a local file selected for upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte // nil when the file was too large to read
}

// FromPath reads a file from disk. Oversized files are not read; Validate rejects them.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, errors.NewValidation(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if info.IsDir() {
		return File{}, errors.NewValidation(fmt.Sprintf("%s is a directory", path))
	}

	f := File{
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	if f.Size > MaxFileSize {
		f.ContentType = typeFromName(f.Name)
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.NewValidation(fmt.Sprintf("cannot read %s: %v", path, err))
	}
	f.Data = data
	f.Size = int64(len(data))
	f.ContentType = detectType(f.Name, data)
	return f, nil
}

// FromBytes wraps in-memory data (for example a multipart form part).
// An empty or generic contentType is replaced by detection.
func FromBytes(name, contentType string, data []byte) File {
	ct := baseType(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = detectType(name, data)
	}
	return File{
		Name:        filepath.Base(name),
		ContentType: ct,
		Size:        int64(len(data)),
		Data:        data,
	}
}

// Oversized describes a file that is not read because it exceeds MaxFileSize.
// The declared type is kept, else it is guessed from the name.
func Oversized(name, contentType string, size int64) File {
	ct := baseType(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = typeFromName(name)
	}
	return File{Name: filepath.Base(name), ContentType: ct, Size: size}
}

// IsImage reports whether the content type is image/*.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.ContentType, "image/")
}

// detectType prefers the extension, then sniffs the content.
func detectType(name string, data []byte) string {
	if ct := typeFromName(name); ct != "" {
		return ct
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return baseType(http.DetectContentType(data))
}

func typeFromName(name string) string {
	return baseType(mime.TypeByExtension(strings.ToLower(filepath.Ext(name))))
}

// baseType strips parameters: "text/plain; charset=utf-8" -> "text/plain".
func baseType(ct string) string {
	if ct == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return media
}
