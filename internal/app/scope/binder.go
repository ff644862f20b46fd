// Package scope binds subscription scopes to the lifetime of a screen: open
// everything the screen needs before showing it, and release it again when the
// screen goes away, even if that happens mid-navigation.
package scope

import (
	"context"
	"errors"
	"sync"

	"partylog/internal/app/coordinator"
	"partylog/internal/domain"
	"partylog/internal/predicate"

	"golang.org/x/sync/errgroup"
)

// Grant is one named rule a screen needs for an entity type.
type Grant struct {
	Entity    domain.EntityType
	Name      string
	Predicate predicate.Expr
}

// Coordinator is the subset of *coordinator.Coordinator a binder drives.
type Coordinator interface {
	EnqueueAdd(ctx context.Context, entity domain.EntityType, name string, p predicate.Expr) (*coordinator.Ticket, error)
	EnqueueRemove(ctx context.Context, entity domain.EntityType, name string) (*coordinator.Ticket, error)
	EnqueueReset(ctx context.Context, entity domain.EntityType) (*coordinator.Ticket, error)
}

// Binder tracks the grants opened on behalf of one screen.
type Binder struct {
	coord Coordinator

	mu     sync.Mutex
	opened []Grant
}

// NewBinder returns a binder issuing its scopes through coord.
func NewBinder(coord Coordinator) *Binder {
	return &Binder{coord: coord}
}

// Open queues every grant in order and then waits for all of them. The
// returned error joins every failed grant; the screen should treat it as
// "data may be incomplete".
func (b *Binder) Open(ctx context.Context, grants ...Grant) error {
	tickets := make([]*coordinator.Ticket, 0, len(grants))
	var errs []error

	b.mu.Lock()
	for _, g := range grants {
		t, err := b.coord.EnqueueAdd(ctx, g.Entity, g.Name, g.Predicate)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.opened = append(b.opened, g)
		tickets = append(tickets, t)
	}
	b.mu.Unlock()

	if err := Wait(ctx, tickets...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close queues removal of every grant this binder opened. Removals are queued
// behind any add still in flight for the same entity type and are never
// cancelled with ctx. The tickets may be waited on or dropped.
func (b *Binder) Close(ctx context.Context) ([]*coordinator.Ticket, error) {
	b.mu.Lock()
	opened := b.opened
	b.opened = nil
	b.mu.Unlock()

	return b.remove(ctx, opened)
}

// Release is Close for the listed grants only. Grants the binder does not
// hold are ignored.
func (b *Binder) Release(ctx context.Context, grants ...Grant) ([]*coordinator.Ticket, error) {
	b.mu.Lock()
	var released []Grant
	kept := b.opened[:0:0]
	for _, g := range b.opened {
		if containsGrant(grants, g) {
			released = append(released, g)
		} else {
			kept = append(kept, g)
		}
	}
	b.opened = kept
	b.mu.Unlock()

	return b.remove(ctx, released)
}

func containsGrant(grants []Grant, g Grant) bool {
	for _, x := range grants {
		if x.Entity == g.Entity && x.Name == g.Name {
			return true
		}
	}
	return false
}

func (b *Binder) remove(ctx context.Context, grants []Grant) ([]*coordinator.Ticket, error) {
	detached := context.WithoutCancel(ctx)
	type grantKey struct {
		entity domain.EntityType
		name   string
	}
	seen := make(map[grantKey]bool, len(grants))
	tickets := make([]*coordinator.Ticket, 0, len(grants))
	var errs []error
	for _, g := range grants {
		key := grantKey{entity: g.Entity, name: g.Name}
		if seen[key] {
			continue
		}
		seen[key] = true
		t, err := b.coord.EnqueueRemove(detached, g.Entity, g.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, errors.Join(errs...)
}

// Reset clears every named scope of entity, including ones other screens
// opened, in one transaction. Grants this binder held for entity are
// forgotten.
func (b *Binder) Reset(ctx context.Context, entity domain.EntityType) (*coordinator.Ticket, error) {
	b.mu.Lock()
	kept := b.opened[:0:0]
	for _, g := range b.opened {
		if g.Entity != entity {
			kept = append(kept, g)
		}
	}
	b.opened = kept
	b.mu.Unlock()

	return b.coord.EnqueueReset(context.WithoutCancel(ctx), entity)
}

// Opened returns the grants currently held.
func (b *Binder) Opened() []Grant {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Grant(nil), b.opened...)
}

// Wait blocks until every ticket resolved and joins their failures.
func Wait(ctx context.Context, tickets ...*coordinator.Ticket) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, t := range tickets {
		t := t
		g.Go(func() error {
			if err := t.Wait(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
