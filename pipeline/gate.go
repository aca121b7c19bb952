package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/otodombot/models"
	"github.com/aluiziolira/otodombot/storage"
)

// Action is the outcome of the staleness gate for one candidate.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Lookup is the read side of the store used to resolve candidates.
type Lookup interface {
	FindByURL(ctx context.Context, url string) (*models.Listing, error)
	FindByExternalID(ctx context.Context, externalID int64) (*models.Listing, error)
}

// Gate resolves candidates against stored listings and decides whether they
// are created, updated or skipped.
type Gate struct {
	store  Lookup
	window time.Duration
	now    func() time.Time
}

// NewGate returns a gate using window as the reparse window.
func NewGate(store Lookup, window time.Duration) *Gate {
	return &Gate{store: store, window: window, now: time.Now}
}

// Resolve matches by URL first and then by external id. It returns nil when
// neither matches.
func (g *Gate) Resolve(ctx context.Context, url string, externalID *int64) (*models.Listing, error) {
	l, err := g.store.FindByURL(ctx, url)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find by url: %w", err)
	}
	if externalID == nil {
		return nil, nil
	}

	l, err = g.store.FindByExternalID(ctx, *externalID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by external id: %w", err)
	}
	return l, nil
}

// Decide applies the decision table to a resolved listing.
func (g *Gate) Decide(existing *models.Listing) Action {
	if existing == nil {
		return ActionCreate
	}
	if g.Fresh(*existing) {
		return ActionSkip
	}
	return ActionUpdate
}

// Fresh reports whether l was processed within the reparse window.
func (g *Gate) Fresh(l models.Listing) bool {
	if l.LastParsed == nil {
		return false
	}
	return g.now().Sub(*l.LastParsed) < g.window
}
