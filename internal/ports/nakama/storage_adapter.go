package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"partylog/internal/domain"
	"partylog/internal/ports"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	DefaultCollection         = "subscriptions"
	DefaultMaxConflictRetries = 3
)

// StorageAPI is the part of runtime.NakamaModule the storage adapter needs.
type StorageAPI interface {
	StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error)
	StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error)
}

// NakamaStorageAdapter keeps each subscription list in one storage object owned
// by the user, keyed by entity type. Clients may read their lists but never
// write them.
type NakamaStorageAdapter struct {
	nk         StorageAPI
	collection string
	retries    int
}

// NewNakamaStorageAdapter creates a new storage adapter.
func NewNakamaStorageAdapter(nk StorageAPI, collection string, maxConflictRetries int) *NakamaStorageAdapter {
	if collection == "" {
		collection = DefaultCollection
	}
	if maxConflictRetries < 0 {
		maxConflictRetries = 0
	}
	return &NakamaStorageAdapter{nk: nk, collection: collection, retries: maxConflictRetries}
}

// Load reads the committed list of one entity type.
func (a *NakamaStorageAdapter) Load(ctx context.Context, userID string, entity domain.EntityType) (domain.SubscriptionList, error) {
	if userID == "" {
		return domain.SubscriptionList{}, fmt.Errorf("userID is required")
	}
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: a.collection, Key: string(entity), UserID: userID},
	})
	if err != nil {
		return domain.SubscriptionList{}, fmt.Errorf("failed to read %s subscriptions: %w", entity, err)
	}
	if len(objects) == 0 {
		return domain.NewSubscriptionList(entity, "", nil), nil
	}
	return domain.DecodeSubscriptionList(entity, objects[0].GetVersion(), []byte(objects[0].GetValue()))
}

// Update writes fn's result conditionally on the version it read. A rejected
// version means another writer got in first; the read and fn are repeated up
// to the configured number of retries.
func (a *NakamaStorageAdapter) Update(ctx context.Context, userID string, entity domain.EntityType, fn ports.UpdateFunc) (domain.SubscriptionList, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.SubscriptionList{}, err
		}
		current, err := a.Load(ctx, userID, entity)
		if err != nil {
			return current, err
		}
		next, err := fn(current)
		if err != nil {
			return current, err
		}
		value, err := json.Marshal(next)
		if err != nil {
			return current, fmt.Errorf("failed to marshal %s subscriptions: %w", entity, err)
		}

		// "*" only succeeds if the object does not exist yet.
		version := current.Version
		if version == "" {
			version = "*"
		}
		acks, err := a.nk.StorageWrite(ctx, []*runtime.StorageWrite{
			{
				Collection:      a.collection,
				Key:             string(entity),
				UserID:          userID,
				Value:           string(value),
				Version:         version,
				PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
				PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
			},
		})
		if err == nil {
			next.Entity = entity
			if len(acks) > 0 {
				next.Version = acks[0].GetVersion()
			}
			return next, nil
		}
		if !errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return current, fmt.Errorf("failed to write %s subscriptions: %w", entity, err)
		}
		if attempt >= a.retries {
			return current, fmt.Errorf("%w: %s after %d attempts", ports.ErrConflict, entity, attempt+1)
		}
	}
}

var _ ports.SubscriptionStore = (*NakamaStorageAdapter)(nil)
