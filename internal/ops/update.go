package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/upload"
)

// UpdateInput contains parameters for the Update operation.
type UpdateInput struct {
	ID string

	// Current is the capsule as last listed. When set, non-pending capsules are
	// refused locally and new files are appended to its attachments.
	Current *capsule.Capsule

	Patch      capsule.Patch
	Files      []upload.File
	OnProgress func(upload.Progress)
}

// UpdateOutput contains the result of the Update operation.
type UpdateOutput struct {
	ID          string   `json:"id"`
	Attachments []string `json:"attachments,omitempty"`
}

// Update sends a partial update. New files are uploaded first and appended
// after the existing attachments.
func Update(ctx context.Context, deps Deps, input UpdateInput) (*UpdateOutput, error) {
	if input.ID == "" {
		return nil, errors.NewValidation("id is required")
	}
	if err := requireEditable(input.Current); err != nil {
		return nil, err
	}
	p := input.Patch
	if err := capsule.ValidatePatch(p, deps.now()); err != nil {
		return nil, err
	}
	if err := checkSelection(input.Files); err != nil {
		return nil, err
	}

	if len(input.Files) > 0 {
		if deps.Uploader == nil {
			return nil, errors.NewInternal(errNoUploader)
		}
		var existing []string
		switch {
		case p.Attachments != nil:
			existing = *p.Attachments
		case input.Current != nil:
			existing = input.Current.Attachments
		}
		urls, err := deps.Uploader.UploadMany(ctx, input.Files, input.OnProgress)
		if err != nil {
			return nil, err
		}
		merged := append(append([]string{}, existing...), urls...)
		p.Attachments = &merged
	}

	if p.IsEmpty() {
		return nil, errors.NewValidation("nothing to update")
	}

	ack, err := deps.Backend.UpdateCapsule(ctx, input.ID, p)
	if err != nil {
		return nil, err
	}
	out := &UpdateOutput{ID: ack.ID}
	if p.Attachments != nil {
		out.Attachments = *p.Attachments
	}
	return out, nil
}

// requireEditable refuses capsules that are no longer pending. nil passes.
func requireEditable(c *capsule.Capsule) error {
	if c == nil || c.Status.Editable() {
		return nil
	}
	return errors.NewValidation(fmt.Sprintf("Capsule %q is %s and can no longer be changed", c.Title, c.Status))
}
