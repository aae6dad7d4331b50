package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Outbox delivers collaborator calls (transition logging, summary
// generation) off the state-machine path with at-least-once semantics.
// The orchestrator never blocks on a delivery; a task that keeps
// failing is dropped after its retries with a warning, which is the
// non-fatal failure mode the engine promises for logging calls.
type Outbox struct {
	tasks   chan outboxTask
	log     *logrus.Logger
	retries int
	backoff time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type outboxTask struct {
	name string
	fn   func(ctx context.Context) error
}

// NewOutbox creates and starts an outbox worker
func NewOutbox(log *logrus.Logger, size, retries int, backoff time.Duration) *Outbox {
	o := &Outbox{
		tasks:   make(chan outboxTask, size),
		log:     log,
		retries: retries,
		backoff: backoff,
	}
	o.wg.Add(1)
	go o.worker()
	return o
}

// Enqueue submits a task for background delivery. Tasks enqueued after
// Close, or when the queue is full, are dropped with a warning rather
// than blocking the state machine.
func (o *Outbox) Enqueue(name string, fn func(ctx context.Context) error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.log.WithField("task", name).Warn("outbox closed, dropping task")
		return
	}

	select {
	case o.tasks <- outboxTask{name: name, fn: fn}:
	default:
		o.log.WithField("task", name).Warn("outbox full, dropping task")
	}
}

// Close drains pending tasks and stops the worker
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.tasks)
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Outbox) worker() {
	defer o.wg.Done()

	for task := range o.tasks {
		o.deliver(task)
	}
}

func (o *Outbox) deliver(task outboxTask) {
	var err error
	for attempt := 0; attempt <= o.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(o.backoff * time.Duration(attempt))
		}
		if err = task.fn(context.Background()); err == nil {
			return
		}
	}

	o.log.WithError(err).WithField("task", task.name).Warn("outbox delivery failed, giving up")
}
