package ports

import (
	"context"
	"errors"

	"partylog/internal/domain"
)

// ErrConflict is returned by SubscriptionStore.Update when concurrent writers
// kept invalidating the read version.
var ErrConflict = errors.New("subscription list changed concurrently")

// UpdateFunc maps the current remote list to the desired one.
type UpdateFunc func(current domain.SubscriptionList) (domain.SubscriptionList, error)

// SubscriptionStore defines the remote subscription lists kept per user and entity type.
type SubscriptionStore interface {
	// Load returns the committed list. A list that was never written is
	// returned empty with an empty version.
	Load(ctx context.Context, userID string, entity domain.EntityType) (domain.SubscriptionList, error)

	// Update is the atomic transaction on one list: it reads the current
	// snapshot, applies fn and commits the result only if nobody else
	// committed in between. fn may run more than once. Returns the committed list.
	Update(ctx context.Context, userID string, entity domain.EntityType, fn UpdateFunc) (domain.SubscriptionList, error)
}
