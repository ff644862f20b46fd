package scope

import (
	"context"

	"partylog/internal/domain"
	"partylog/internal/predicate"
)

// Scopes is the caller-facing API for screens that manage single scopes
// themselves rather than through a Binder.
type Scopes struct {
	coord Coordinator
}

func NewScopes(coord Coordinator) Scopes {
	return Scopes{coord: coord}
}

// OpenScope adds name and waits until it is committed remotely.
func (s Scopes) OpenScope(ctx context.Context, entity domain.EntityType, name string, p predicate.Expr) error {
	t, err := s.coord.EnqueueAdd(ctx, entity, name, p)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// CloseScope removes name. The removal is queued detached from ctx, so it
// still lands if the caller stops waiting.
func (s Scopes) CloseScope(ctx context.Context, entity domain.EntityType, name string) error {
	t, err := s.coord.EnqueueRemove(context.WithoutCancel(ctx), entity, name)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// ResetScope drops every named scope of entity in one transaction.
func (s Scopes) ResetScope(ctx context.Context, entity domain.EntityType) error {
	t, err := s.coord.EnqueueReset(context.WithoutCancel(ctx), entity)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}
