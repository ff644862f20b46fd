// Package memory provides an in-process SubscriptionStore for local runs and
// tests. Lists are lost on restart.
package memory

import (
	"context"
	"strconv"
	"sync"

	"partylog/internal/domain"
	"partylog/internal/ports"
)

type key struct {
	userID string
	entity domain.EntityType
}

// Store keeps subscription lists in a map guarded by a mutex. Each commit
// bumps a store-wide version counter.
type Store struct {
	mu      sync.Mutex
	lists   map[key]domain.SubscriptionList
	version uint64
}

func NewStore() *Store {
	return &Store{lists: make(map[key]domain.SubscriptionList)}
}

func (s *Store) Load(ctx context.Context, userID string, entity domain.EntityType) (domain.SubscriptionList, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubscriptionList{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID, entity), nil
}

// Update runs fn under the store lock, so it never observes a conflict.
func (s *Store) Update(ctx context.Context, userID string, entity domain.EntityType, fn ports.UpdateFunc) (domain.SubscriptionList, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubscriptionList{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.get(userID, entity)
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	s.version++
	next.Entity = entity
	next.Version = strconv.FormatUint(s.version, 10)
	s.lists[key{userID, entity}] = next
	return next, nil
}

// Names returns the committed names of one list.
func (s *Store) Names(userID string, entity domain.EntityType) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID, entity).Names()
}

func (s *Store) get(userID string, entity domain.EntityType) domain.SubscriptionList {
	if l, ok := s.lists[key{userID, entity}]; ok {
		return l
	}
	return domain.NewSubscriptionList(entity, "", nil)
}

var _ ports.SubscriptionStore = (*Store)(nil)
