package ops

import (
	"context"

	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	ID      string
	Current *capsule.Capsule // optional; non-pending capsules are refused locally
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Delete removes a pending capsule.
func Delete(ctx context.Context, deps Deps, input DeleteInput) (*DeleteOutput, error) {
	if input.ID == "" {
		return nil, errors.NewValidation("id is required")
	}
	if err := requireEditable(input.Current); err != nil {
		return nil, err
	}

	if err := deps.Backend.DeleteCapsule(ctx, input.ID); err != nil {
		return nil, err
	}
	return &DeleteOutput{
		Deleted: true,
		ID:      input.ID,
	}, nil
}
