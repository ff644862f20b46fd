package coordinator

import (
	"context"
	"strconv"
	"sync"

	"partylog/internal/domain"
	"partylog/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

// memoryStore is an in-memory ports.SubscriptionStore with failure injection
// and a gate that holds updates until released.
type memoryStore struct {
	mu       sync.Mutex
	lists    map[string]domain.SubscriptionList
	version  int
	updates  map[domain.EntityType]int
	commits  map[domain.EntityType][][]string
	failNext map[domain.EntityType]error
	gate     chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		lists:    make(map[string]domain.SubscriptionList),
		updates:  make(map[domain.EntityType]int),
		commits:  make(map[domain.EntityType][][]string),
		failNext: make(map[domain.EntityType]error),
	}
}

func storeKey(userID string, entity domain.EntityType) string {
	return userID + "/" + string(entity)
}

func (s *memoryStore) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *memoryStore) failUpdate(entity domain.EntityType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[entity] = err
}

func (s *memoryStore) seed(userID string, list domain.SubscriptionList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	list.Version = strconv.Itoa(s.version)
	s.lists[storeKey(userID, list.Entity)] = list
}

func (s *memoryStore) list(userID string, entity domain.EntityType) domain.SubscriptionList {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lists[storeKey(userID, entity)]; ok {
		return l
	}
	return domain.NewSubscriptionList(entity, "", nil)
}

func (s *memoryStore) updateCount(entity domain.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[entity]
}

func (s *memoryStore) commitHistory(entity domain.EntityType) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.commits[entity]...)
}

func (s *memoryStore) Load(ctx context.Context, userID string, entity domain.EntityType) (domain.SubscriptionList, error) {
	return s.list(userID, entity), nil
}

func (s *memoryStore) Update(ctx context.Context, userID string, entity domain.EntityType, fn ports.UpdateFunc) (domain.SubscriptionList, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.SubscriptionList{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[entity]++
	current, ok := s.lists[storeKey(userID, entity)]
	if !ok {
		current = domain.NewSubscriptionList(entity, "", nil)
	}
	if err := s.failNext[entity]; err != nil {
		delete(s.failNext, entity)
		return current, err
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	s.version++
	next.Version = strconv.Itoa(s.version)
	s.lists[storeKey(userID, entity)] = next
	s.commits[entity] = append(s.commits[entity], next.Names())
	return next, nil
}

var _ ports.SubscriptionStore = (*memoryStore)(nil)
