package upload

import (
	"fmt"

	"github.com/hpungsan/tcap/internal/errors"
)

// Rejection is a file excluded from a selection, with the user-facing reason.
type Rejection struct {
	File   File
	Reason string
}

// Validate applies the selection rules.
//
// More than MaxFiles files rejects the whole selection with a VALIDATION error,
// regardless of whether the individual files are valid. Otherwise each
// non-image or oversized file is rejected on its own and the rest are accepted.
func Validate(files []File) (accepted []File, rejected []Rejection, err error) {
	if len(files) > MaxFiles {
		return nil, nil, errors.NewValidation(fmt.Sprintf("Maximum %d files allowed", MaxFiles))
	}

	accepted = make([]File, 0, len(files))
	for _, f := range files {
		switch {
		case !f.IsImage():
			rejected = append(rejected, Rejection{File: f, Reason: fmt.Sprintf("%s is not an image file", f.Name)})
		case f.Size > MaxFileSize:
			rejected = append(rejected, Rejection{File: f, Reason: fmt.Sprintf("%s is too large (max 10MB)", f.Name)})
		default:
			accepted = append(accepted, f)
		}
	}
	return accepted, rejected, nil
}
