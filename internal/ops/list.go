package ops

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hpungsan/tcap/internal/api"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Status  capsule.Status // optional filter
	Limit   int            // default: 50, max: 100
	LastKey string         // cursor from a previous ListOutput
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Capsules []capsule.Capsule `json:"capsules"`
	Count    int               `json:"count"`
	LastKey  string            `json:"last_key,omitempty"`
}

// List fetches one page of the user's capsules.
func List(ctx context.Context, deps Deps, input ListInput) (*ListOutput, error) {
	if input.Status != "" && !input.Status.Valid() {
		return nil, errors.NewValidation(fmt.Sprintf("invalid status %q (want pending, delivered or failed)", input.Status))
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	res, err := deps.Backend.ListCapsules(ctx, api.ListOptions{
		Status:  input.Status,
		Limit:   limit,
		LastKey: input.LastKey,
	})
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Capsules: res.Capsules,
		Count:    len(res.Capsules),
		LastKey:  res.LastKey,
	}, nil
}

// GetInput contains parameters for the Get operation.
type GetInput struct {
	ID string
}

// Get finds one capsule by paging through the list. The backend has no
// single-capsule endpoint, so list items carry only the message preview.
func Get(ctx context.Context, deps Deps, input GetInput) (*capsule.Capsule, error) {
	if input.ID == "" {
		return nil, errors.NewValidation("id is required")
	}

	lastKey := ""
	for {
		res, err := deps.Backend.ListCapsules(ctx, api.ListOptions{Limit: MaxListLimit, LastKey: lastKey})
		if err != nil {
			return nil, err
		}
		for i := range res.Capsules {
			if res.Capsules[i].ID == input.ID {
				return &res.Capsules[i], nil
			}
		}
		if res.LastKey == "" || res.LastKey == lastKey {
			return nil, errors.NewAPI(http.StatusNotFound, "Capsule not found")
		}
		lastKey = res.LastKey
	}
}
