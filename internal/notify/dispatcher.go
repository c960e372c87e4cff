package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 250 * time.Millisecond
	pushTimeout     = 2 * time.Second
)

// Sender delivers a message to one sink.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type Dispatcher struct {
	queue    Queue
	outbox   *MemoryQueue
	email    Sender
	events   Sender
	attempts int
	backoff  time.Duration
}

type Option func(*Dispatcher)

// WithRetry sets how many times a delivery is tried and the pause between
// tries, which grows linearly.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		d.backoff = backoff
	}
}

// WithOutbox puts a bounded in-process buffer in front of a remote queue.
// Notify then only touches memory, and Run forwards buffered messages to
// the queue.
func WithOutbox(size int) Option {
	return func(d *Dispatcher) {
		d.outbox = NewMemoryQueue(size)
	}
}

// NewDispatcher routes customer e-mails to email and order events to events.
// Either sender may be nil, in which case those messages are discarded.
func NewDispatcher(queue Queue, email, events Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		email:    email,
		events:   events,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues msg and returns immediately. A message that cannot be
// queued is dropped and counted.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) {
	if d.outbox != nil {
		if err := d.outbox.Push(ctx, msg); err != nil {
			dropped(msg, err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := d.queue.Push(ctx, msg); err != nil {
		dropped(msg, err)
	}
}

func dropped(msg Message, err error) {
	metrics.NotificationDropped(msg.Kind.String())
	log.Error().Err(err).
		Stringer("kind", msg.Kind).
		Str("order_id", msg.OrderID).
		Msg("notify: message dropped")
}

// Run starts workers that drain the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	if d.outbox != nil {
		g.Go(func() error {
			d.forward(ctx)
			return nil
		})
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

// forward moves messages from the outbox to the queue. Messages still in
// the outbox when ctx ends are lost.
func (d *Dispatcher) forward(ctx context.Context) {
	for {
		msg, err := d.outbox.Pop(ctx)
		if err != nil {
			return
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err = d.queue.Push(pushCtx, *msg)
		cancel()
		if err != nil {
			dropped(*msg, err)
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		msg, err := d.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("notify: failed to read from queue")
			if !sleep(ctx, d.backoff) {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}
		d.Deliver(ctx, *msg)
	}
}

// Deliver sends msg to its sink, retrying failures. The outcome is only
// logged and counted.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) {
	sender := d.events
	if msg.Kind.IsEmail() {
		sender = d.email
	}
	if sender == nil {
		log.Debug().Stringer("kind", msg.Kind).Str("order_id", msg.OrderID).Msg("notify: no sender configured, message skipped")
		return
	}

	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = sender.Send(ctx, msg); err == nil {
			break
		}
		if attempt == d.attempts || !sleep(ctx, time.Duration(attempt)*d.backoff) {
			break
		}
	}

	metrics.ObserveNotification(msg.Kind.String(), sender.Name(), err)
	if err != nil {
		log.Error().Err(err).
			Stringer("kind", msg.Kind).
			Str("sink", sender.Name()).
			Str("order_id", msg.OrderID).
			Msg("notify: delivery failed")
		return
	}
	log.Info().
		Stringer("kind", msg.Kind).
		Str("sink", sender.Name()).
		Str("order_id", msg.OrderID).
		Msg("notify: message delivered")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
