package coordinator

import (
	"context"

	"partylog/internal/domain"

	"github.com/google/uuid"
)

// Ticket tracks one queued mutation until its transaction resolves.
type Ticket struct {
	id     string
	op     Op
	entity domain.EntityType
	name   string
	done   chan struct{}
	err    error
}

func newTicket(op Op, entity domain.EntityType, name string) *Ticket {
	return &Ticket{
		id:     uuid.NewString(),
		op:     op,
		entity: entity,
		name:   name,
		done:   make(chan struct{}),
	}
}

func (t *Ticket) ID() string                { return t.id }
func (t *Ticket) Op() Op                    { return t.op }
func (t *Ticket) Entity() domain.EntityType { return t.entity }
func (t *Ticket) Name() string              { return t.name }

// Done is closed once the mutation committed or failed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the outcome; only meaningful after Done is closed.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the mutation resolves or ctx ends. Giving up on the wait
// does not withdraw the mutation.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticket) resolve(err error) {
	t.err = err
	close(t.done)
}
