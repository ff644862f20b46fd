// Package coordinator keeps a user's remote subscription lists in step with
// the scopes their screens have asked for. Every mutation is queued per entity
// type and committed through the store's atomic update before the caller is
// told it succeeded.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"partylog/internal/domain"
	"partylog/internal/ports"
	"partylog/internal/predicate"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/types/known/structpb"
)

const DefaultCommitTimeout = 10 * time.Second

// Session identifies the authenticated user a coordinator acts for. An empty
// SessionID marks a coordinator recreated mid-session, after a server restart
// or a released socket: it resumes the remote lists and adopts the named
// scopes it finds there instead of pruning them.
type Session struct {
	UserID    string
	SessionID string
}

func (s Session) resumed() bool { return s.SessionID == "" }

type sessionKey struct{}

// WithSession tags ctx with the caller's session so a coordinator bound to a
// different one can refuse the call.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session set by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	// Bases overrides domain.BasePredicates for the listed entity types.
	Bases         map[domain.EntityType]predicate.Expr
	CommitTimeout time.Duration
}

type entityState struct {
	set       *domain.SubscriptionSet
	committed domain.SubscriptionList
	state     domain.State
	queue     *serialQueue
}

// Coordinator owns one SubscriptionSet and one serial queue per entity type
// for a single session.
type Coordinator struct {
	session Session
	store   ports.SubscriptionStore
	logger  runtime.Logger
	timeout time.Duration

	mu       sync.RWMutex
	closed   bool
	entities map[domain.EntityType]*entityState
}

// New builds a coordinator for session. Nothing is read from the store until
// Start or the first mutation.
func New(session Session, store ports.SubscriptionStore, logger runtime.Logger, opts Options) *Coordinator {
	bases := domain.BasePredicates(session.UserID)
	for et, p := range opts.Bases {
		bases[et] = p
	}
	timeout := opts.CommitTimeout
	if timeout <= 0 {
		timeout = DefaultCommitTimeout
	}

	c := &Coordinator{
		session:  session,
		store:    store,
		logger:   logger.WithFields(map[string]interface{}{"user": session.UserID, "session": session.SessionID}),
		timeout:  timeout,
		entities: make(map[domain.EntityType]*entityState),
	}
	for _, et := range domain.EntityTypes() {
		c.entities[et] = &entityState{
			set:       domain.NewSubscriptionSet(et, bases[et]),
			committed: domain.NewSubscriptionList(et, "", nil),
			state:     domain.StateUnsynced,
			queue:     newSerialQueue(c.run),
		}
	}
	return c
}

func (c *Coordinator) Session() Session { return c.session }

// Start loads every remote list and reconciles it with the local sets: the
// base rule is written and leftovers from earlier sessions are dropped, or
// adopted for a resumed session. Failures for individual entity types are
// joined; such entity types reconcile again on their next mutation.
func (c *Coordinator) Start(ctx context.Context) error {
	tickets := make([]*Ticket, 0, len(c.entities))
	for _, et := range domain.EntityTypes() {
		t, err := c.enqueue(ctx, &job{op: OpStart, entity: et})
		if err != nil {
			return err
		}
		tickets = append(tickets, t)
	}
	var errs []error
	for _, t := range tickets {
		if err := t.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnqueueAdd records name -> p as desired and queues the remote upsert.
// Adding an existing name replaces its rule.
func (c *Coordinator) EnqueueAdd(ctx context.Context, entity domain.EntityType, name string, p predicate.Expr) (*Ticket, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return c.enqueue(ctx, &job{op: OpAdd, entity: entity, name: name, query: p})
}

// EnqueueRemove drops name from the desired set and queues the remote removal.
// Unknown names are not an error.
func (c *Coordinator) EnqueueRemove(ctx context.Context, entity domain.EntityType, name string) (*Ticket, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	return c.enqueue(ctx, &job{op: OpRemove, entity: entity, name: name})
}

// EnqueueReset clears every named rule of entity in a single transaction.
func (c *Coordinator) EnqueueReset(ctx context.Context, entity domain.EntityType) (*Ticket, error) {
	return c.enqueue(ctx, &job{op: OpReset, entity: entity})
}

// AddSubscription is EnqueueAdd followed by Wait.
func (c *Coordinator) AddSubscription(ctx context.Context, entity domain.EntityType, name string, p predicate.Expr) error {
	t, err := c.EnqueueAdd(ctx, entity, name, p)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// RemoveSubscription is EnqueueRemove followed by Wait.
func (c *Coordinator) RemoveSubscription(ctx context.Context, entity domain.EntityType, name string) error {
	t, err := c.EnqueueRemove(ctx, entity, name)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// RemoveAllExceptBase is EnqueueReset followed by Wait.
func (c *Coordinator) RemoveAllExceptBase(ctx context.Context, entity domain.EntityType) error {
	t, err := c.EnqueueReset(ctx, entity)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

// HasSubscription reports whether name is in the last committed remote list.
func (c *Coordinator) HasSubscription(entity domain.EntityType, name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	es, ok := c.entities[entity]
	return ok && es.committed.Has(name)
}

// Predicate is the union of the committed remote list, the rule local reads
// may rely on.
func (c *Coordinator) Predicate(entity domain.EntityType) predicate.Expr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if es, ok := c.entities[entity]; ok {
		return es.committed.Union()
	}
	return predicate.Never()
}

// Desired is the effective predicate of the local set, committed or not.
func (c *Coordinator) Desired(entity domain.EntityType) predicate.Expr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if es, ok := c.entities[entity]; ok {
		return es.set.EffectivePredicate()
	}
	return predicate.Never()
}

// Names returns the named scopes the local set currently wants.
func (c *Coordinator) Names(entity domain.EntityType) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if es, ok := c.entities[entity]; ok {
		return es.set.Names()
	}
	return nil
}

// Pending returns names whose desired rule is not yet reflected remotely,
// including names still present remotely that are no longer wanted.
func (c *Coordinator) Pending(entity domain.EntityType) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	es, ok := c.entities[entity]
	if !ok {
		return nil
	}
	upserts, removals := es.committed.Diff(es.set.Subscriptions())
	return append(upserts, removals...)
}

// Visible filters records down to those the committed list makes visible.
func (c *Coordinator) Visible(entity domain.EntityType, records []*structpb.Struct) []*structpb.Struct {
	p := c.Predicate(entity)
	out := make([]*structpb.Struct, 0, len(records))
	for _, rec := range records {
		if p.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// State returns the sync state of entity's remote list.
func (c *Coordinator) State(entity domain.EntityType) domain.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if es, ok := c.entities[entity]; ok {
		return es.state
	}
	return domain.StateUnsynced
}

// Closed reports whether Close was called.
func (c *Coordinator) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close ends the session. Queued mutations that have not started and every
// later call fail with ErrStaleSession; a transaction already in flight
// finishes.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var pending []*job
	for _, es := range c.entities {
		pending = append(pending, es.queue.close()...)
	}
	c.mu.Unlock()

	for _, j := range pending {
		j.ticket.resolve(ErrStaleSession)
	}
	c.logger.Info("Subscription coordinator closed, %d queued mutations dropped", len(pending))
}

func (c *Coordinator) checkSession(ctx context.Context) error {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return nil
	}
	if s.UserID != c.session.UserID {
		return fmt.Errorf("%w: caller %s, coordinator %s", ErrStaleSession, s.UserID, c.session.UserID)
	}
	if s.SessionID != "" && c.session.SessionID != "" && s.SessionID != c.session.SessionID {
		return fmt.Errorf("%w: session %s replaced by %s", ErrStaleSession, s.SessionID, c.session.SessionID)
	}
	return nil
}

// enqueue applies the job's intent to the local set and queues the remote
// transaction, both under the coordinator lock so intent and queue order agree.
func (c *Coordinator) enqueue(ctx context.Context, j *job) (*Ticket, error) {
	if err := c.checkSession(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrStaleSession
	}
	es, ok := c.entities[j.entity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, j.entity)
	}

	switch j.op {
	case OpAdd:
		es.set.AddQuery(j.name, j.query)
	case OpRemove:
		es.set.RemoveQuery(j.name)
	case OpReset:
		es.set.RemoveAllExceptBase()
	}

	j.ctx = context.WithoutCancel(ctx)
	j.ticket = newTicket(j.op, j.entity, j.name)
	if !es.queue.push(j) {
		return nil, ErrStaleSession
	}
	return j.ticket, nil
}

// run executes one job on its entity type's queue goroutine.
func (c *Coordinator) run(j *job) {
	log := c.logger.WithFields(map[string]interface{}{
		"entity": string(j.entity),
		"op":     string(j.op),
		"scope":  j.name,
		"ticket": j.ticket.id,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		j.ticket.resolve(ErrStaleSession)
		return
	}
	es := c.entities[j.entity]
	if es.state == domain.StateSynced && alreadyApplied(es.committed, j) {
		c.mu.Unlock()
		log.Debug("Subscription already in requested state, skipping commit")
		j.ticket.resolve(nil)
		return
	}
	prev := es.state
	es.state = domain.StateSyncing
	// Unsynced lists are reconciled in full so a failed Start never leaves the
	// remote without its base rule.
	var desired []domain.Subscription
	if j.op == OpStart || prev == domain.StateUnsynced {
		desired = es.set.Subscriptions()
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(j.ctx, c.timeout)
	defer cancel()

	list, err := c.commit(ctx, j, desired)

	c.mu.Lock()
	if err != nil {
		es.state = prev
		c.mu.Unlock()
		log.Error("Subscription transaction failed: %v", err)
		j.ticket.resolve(&TransactionError{Entity: j.entity, Op: j.op, Name: j.name, Err: err})
		return
	}
	if desired != nil && c.session.resumed() {
		adopt(es.set, list)
	}
	es.committed = list
	es.state = domain.StateSynced
	c.mu.Unlock()

	log.Debug("Subscription transaction committed at version %s", list.Version)
	j.ticket.resolve(nil)
}

// commit runs j against the store. A non-nil desired reconciles the remote
// list with it before j's own edit is applied.
func (c *Coordinator) commit(ctx context.Context, j *job, desired []domain.Subscription) (domain.SubscriptionList, error) {
	prune := !c.session.resumed()
	if j.op == OpStart {
		current, err := c.store.Load(ctx, c.session.UserID, j.entity)
		if err != nil {
			return current, err
		}
		upserts, removals := current.Diff(desired)
		if len(upserts) == 0 && (len(removals) == 0 || !prune) {
			return current, nil
		}
	}

	return c.store.Update(ctx, c.session.UserID, j.entity, func(current domain.SubscriptionList) (domain.SubscriptionList, error) {
		return current.Apply(func(ed *domain.ListEditor) error {
			if desired != nil {
				if prune {
					names := make([]string, 0, len(desired))
					for _, d := range desired {
						names = append(names, d.Name)
					}
					ed.RemoveAllExcept(names...)
				}
				for _, d := range desired {
					ed.Upsert(d.Name, d.Query)
				}
			}
			switch j.op {
			case OpAdd:
				ed.Upsert(j.name, j.query)
			case OpRemove:
				ed.Remove(j.name)
			case OpReset:
				ed.RemoveAllExcept(domain.BaseSubscriptionName)
			}
			return nil
		})
	})
}

// adopt adds the named scopes of a committed list that set does not know yet.
func adopt(set *domain.SubscriptionSet, list domain.SubscriptionList) {
	for _, sub := range list.Items() {
		if sub.Name == domain.BaseSubscriptionName {
			continue
		}
		if _, ok := set.Query(sub.Name); !ok {
			set.AddQuery(sub.Name, sub.Query)
		}
	}
}

func alreadyApplied(committed domain.SubscriptionList, j *job) bool {
	switch j.op {
	case OpAdd:
		q, ok := committed.Lookup(j.name)
		return ok && predicate.Equal(q, j.query)
	case OpRemove:
		return !committed.Has(j.name)
	case OpReset:
		names := committed.Names()
		return len(names) == 0 || (len(names) == 1 && names[0] == domain.BaseSubscriptionName)
	}
	return false
}
