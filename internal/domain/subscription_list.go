package domain

import (
	"encoding/json"
	"fmt"
	"slices"

	"partylog/internal/predicate"
)

// Subscription is a named rule held in a remote subscription list.
type Subscription struct {
	Name  string         `json:"name"`
	Query predicate.Expr `json:"query"`
}

// SubscriptionList is an immutable snapshot of one entity type's remote
// subscription list. Version is the store's opaque concurrency token; empty
// means the list has never been written.
type SubscriptionList struct {
	Entity  EntityType
	Version string
	items   []Subscription
}

// NewSubscriptionList builds a snapshot. Later duplicates of a name replace
// earlier ones.
func NewSubscriptionList(entity EntityType, version string, items []Subscription) SubscriptionList {
	l := SubscriptionList{Entity: entity, Version: version}
	ed := &ListEditor{}
	for _, it := range items {
		ed.Upsert(it.Name, it.Query)
	}
	l.items = ed.items
	return l
}

func (l SubscriptionList) Len() int { return len(l.items) }

// Items returns a copy of the subscriptions in list order.
func (l SubscriptionList) Items() []Subscription {
	return append([]Subscription(nil), l.items...)
}

// Lookup returns the rule under name.
func (l SubscriptionList) Lookup(name string) (predicate.Expr, bool) {
	for _, it := range l.items {
		if it.Name == name {
			return it.Query, true
		}
	}
	return predicate.Never(), false
}

// Has reports whether name is present.
func (l SubscriptionList) Has(name string) bool {
	_, ok := l.Lookup(name)
	return ok
}

// Names returns subscription names in list order.
func (l SubscriptionList) Names() []string {
	out := make([]string, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it.Name)
	}
	return out
}

// Union is the OR of every rule in the list.
func (l SubscriptionList) Union() predicate.Expr {
	args := make([]predicate.Expr, 0, len(l.items))
	for _, it := range l.items {
		args = append(args, it.Query)
	}
	return predicate.Or(args...)
}

// Apply runs fn against a private copy of the list and returns the edited
// snapshot. The receiver is never modified; if fn fails the result is the
// unchanged receiver.
func (l SubscriptionList) Apply(fn func(*ListEditor) error) (SubscriptionList, error) {
	ed := &ListEditor{items: l.Items()}
	if err := fn(ed); err != nil {
		return l, err
	}
	out := l
	out.items = ed.items
	return out, nil
}

// Diff compares the desired subscriptions with the list and returns the names
// that must be written (missing or different) and the names that must be
// removed.
func (l SubscriptionList) Diff(desired []Subscription) (upserts, removals []string) {
	want := make(map[string]bool, len(desired))
	for _, d := range desired {
		want[d.Name] = true
		if cur, ok := l.Lookup(d.Name); !ok || !predicate.Equal(cur, d.Query) {
			upserts = append(upserts, d.Name)
		}
	}
	for _, it := range l.items {
		if !want[it.Name] {
			removals = append(removals, it.Name)
		}
	}
	return upserts, removals
}

type listDocument struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// MarshalJSON encodes the items; entity and version live in the storage key
// and object metadata.
func (l SubscriptionList) MarshalJSON() ([]byte, error) {
	items := l.items
	if items == nil {
		items = []Subscription{}
	}
	return json.Marshal(listDocument{Subscriptions: items})
}

// DecodeSubscriptionList parses a stored list document.
func DecodeSubscriptionList(entity EntityType, version string, data []byte) (SubscriptionList, error) {
	var doc listDocument
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return SubscriptionList{}, fmt.Errorf("decode %s subscriptions: %w", entity, err)
		}
	}
	return NewSubscriptionList(entity, version, doc.Subscriptions), nil
}

// ListEditor is the mutable view of a list inside SubscriptionList.Apply.
type ListEditor struct {
	items []Subscription
}

// Upsert replaces the rule under name in place or appends it.
func (e *ListEditor) Upsert(name string, q predicate.Expr) (updated bool) {
	for i := range e.items {
		if e.items[i].Name == name {
			e.items[i].Query = q
			return true
		}
	}
	e.items = append(e.items, Subscription{Name: name, Query: q})
	return false
}

// Remove drops name, reporting whether it was present.
func (e *ListEditor) Remove(name string) bool {
	for i := range e.items {
		if e.items[i].Name == name {
			e.items = append(e.items[:i:i], e.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllExcept drops every subscription whose name is not in keep and
// returns the removed names.
func (e *ListEditor) RemoveAllExcept(keep ...string) []string {
	kept := e.items[:0:0]
	var removed []string
	for _, it := range e.items {
		if slices.Contains(keep, it.Name) {
			kept = append(kept, it)
		} else {
			removed = append(removed, it.Name)
		}
	}
	e.items = kept
	return removed
}

// Lookup returns the rule currently under name.
func (e *ListEditor) Lookup(name string) (predicate.Expr, bool) {
	for _, it := range e.items {
		if it.Name == name {
			return it.Query, true
		}
	}
	return predicate.Never(), false
}
