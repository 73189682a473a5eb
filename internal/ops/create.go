package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/upload"
)

// CreateInput contains parameters for the Create operation.
type CreateInput struct {
	Draft      capsule.Draft
	Files      []upload.File // already-validated selection; may be empty
	OnProgress func(upload.Progress)
}

// CreateOutput contains the result of the Create operation.
type CreateOutput struct {
	Capsule *capsule.Capsule `json:"capsule"`
}

// Create validates the draft, uploads the selected files one at a time, and
// posts the capsule with their URLs appended in selection order.
//
// An upload failure aborts before anything is posted. Files uploaded before a
// later failure stay in storage; nothing removes them.
func Create(ctx context.Context, deps Deps, input CreateInput) (*CreateOutput, error) {
	d := input.Draft
	if err := capsule.ValidateDraft(d, deps.now()); err != nil {
		return nil, err
	}
	if err := checkSelection(input.Files); err != nil {
		return nil, err
	}

	attachments := append([]string{}, d.Attachments...)
	if len(input.Files) > 0 {
		if deps.Uploader == nil {
			return nil, errors.NewInternal(errNoUploader)
		}
		urls, err := deps.Uploader.UploadMany(ctx, input.Files, input.OnProgress)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, urls...)
	}
	d.Attachments = attachments
	if d.Tags == nil {
		d.Tags = []string{}
	}

	c, err := deps.Backend.CreateCapsule(ctx, d)
	if err != nil {
		if len(input.Files) > 0 {
			deps.logger().Warn("capsule creation failed after upload; attachments orphaned",
				"count", len(input.Files), "error", err)
		}
		return nil, err
	}
	return &CreateOutput{Capsule: c}, nil
}

// checkSelection re-applies the selection rules so callers cannot bypass them.
func checkSelection(files []upload.File) error {
	_, rejected, err := upload.Validate(files)
	if err != nil {
		return err
	}
	if len(rejected) > 0 {
		reasons := make([]string, len(rejected))
		for i, r := range rejected {
			reasons[i] = r.Reason
		}
		return errors.NewValidation(strings.Join(reasons, "; "))
	}
	return nil
}
