package coordinator

import (
	"context"
	"sync"

	"partylog/internal/domain"
	"partylog/internal/predicate"
)

// Op names a queued mutation of a remote subscription list.
type Op string

const (
	OpStart  Op = "start"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpReset  Op = "reset"
)

type job struct {
	op     Op
	entity domain.EntityType
	name   string
	query  predicate.Expr
	ctx    context.Context
	ticket *Ticket
}

// serialQueue runs jobs one at a time in push order on its own goroutine.
type serialQueue struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSerialQueue(run func(*job)) *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop(run)
	return q
}

// push appends j. It returns false once the queue is closed.
func (q *serialQueue) push(j *job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting jobs and returns the ones that never started. The
// job in flight, if any, runs to completion.
func (q *serialQueue) close() []*job {
	q.mu.Lock()
	q.closed = true
	pending := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return pending
}

func (q *serialQueue) loop(run func(*job)) {
	defer close(q.done)
	for {
		j, ok := q.next()
		if !ok {
			return
		}
		run(j)
	}
}

func (q *serialQueue) next() (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return j, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}
