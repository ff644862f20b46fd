package domain

import "partylog/internal/predicate"

// SubscriptionSet tracks the desired visibility rules for one entity type: an
// immutable base rule plus named rules in insertion order. It is not safe for
// concurrent use; the coordinator owning it serializes access.
type SubscriptionSet struct {
	entity EntityType
	base   predicate.Expr
	order  []string
	named  map[string]predicate.Expr
}

// NewSubscriptionSet builds a set for entity. A zero base never matches, which
// is what filter-only entity types want.
func NewSubscriptionSet(entity EntityType, base predicate.Expr) *SubscriptionSet {
	return &SubscriptionSet{
		entity: entity,
		base:   base,
		named:  make(map[string]predicate.Expr),
	}
}

func (s *SubscriptionSet) Entity() EntityType   { return s.entity }
func (s *SubscriptionSet) Base() predicate.Expr { return s.base }
func (s *SubscriptionSet) Len() int             { return len(s.order) }

// AddQuery registers p under name, replacing any rule already registered
// under that name in place. It reports whether the set changed.
func (s *SubscriptionSet) AddQuery(name string, p predicate.Expr) bool {
	if prev, ok := s.named[name]; ok {
		if predicate.Equal(prev, p) {
			return false
		}
		s.named[name] = p
		return true
	}
	s.named[name] = p
	s.order = append(s.order, name)
	return true
}

// RemoveQuery drops the rule under name. Absent names are ignored.
func (s *SubscriptionSet) RemoveQuery(name string) bool {
	if _, ok := s.named[name]; !ok {
		return false
	}
	delete(s.named, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// RemoveAllExceptBase clears every named rule in one step and returns the
// names that were removed.
func (s *SubscriptionSet) RemoveAllExceptBase() []string {
	removed := s.order
	s.order = nil
	s.named = make(map[string]predicate.Expr)
	return removed
}

// Query returns the rule registered under name.
func (s *SubscriptionSet) Query(name string) (predicate.Expr, bool) {
	p, ok := s.named[name]
	return p, ok
}

// Names returns the named rules in insertion order.
func (s *SubscriptionSet) Names() []string {
	return append([]string(nil), s.order...)
}

// EffectivePredicate is base OR every named rule, rebuilt on each call.
func (s *SubscriptionSet) EffectivePredicate() predicate.Expr {
	args := make([]predicate.Expr, 0, len(s.order)+1)
	args = append(args, s.base)
	for _, n := range s.order {
		args = append(args, s.named[n])
	}
	return predicate.Or(args...)
}

// Subscriptions returns base plus named rules as the list a synced remote
// should hold.
func (s *SubscriptionSet) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(s.order)+1)
	out = append(out, Subscription{Name: BaseSubscriptionName, Query: s.base})
	for _, n := range s.order {
		out = append(out, Subscription{Name: n, Query: s.named[n]})
	}
	return out
}
