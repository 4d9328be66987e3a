package notification

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Dispatcher fans a committed transition out to its recipients: persist,
// bump the unread counter, push live. Only a failed persist skips the
// later steps for that recipient; nothing is returned to the caller.
type Dispatcher struct {
	store   Store
	counter Counter
	pusher  Pusher
	metrics *metrics.SchedulingMetrics
	logger  zerolog.Logger
}

func NewDispatcher(store Store, counter Counter, pusher Pusher, m *metrics.SchedulingMetrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		counter: counter,
		pusher:  pusher,
		metrics: m,
		logger:  logger.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// Notify dispatches synchronously.
func (d *Dispatcher) Notify(ctx context.Context, ev appointment.Event) {
	d.Dispatch(ctx, ev)
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev appointment.Event) {
	log := logging.FromContext(ctx, d.logger).With().
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.Appointment.ID.String()).
		Logger()

	for _, recipient := range Recipients(ev) {
		n := build(ev, recipient)

		if err := d.store.Insert(ctx, n); err != nil {
			d.metrics.ObserveNotification("failed")
			log.Error().Err(err).Str("recipient_id", recipient.String()).Msg("failed to persist notification")
			continue
		}
		if err := d.counter.Incr(ctx, recipient); err != nil {
			log.Warn().Err(err).Str("recipient_id", recipient.String()).Msg("failed to bump unread counter")
		}
		if err := d.pusher.Push(ctx, n); err != nil {
			log.Warn().Err(err).Str("recipient_id", recipient.String()).Msg("live push failed")
		}
		d.metrics.ObserveNotification("delivered")
	}
}

// AsyncDispatcher moves dispatch off the request path onto a bounded
// queue served by a fixed pool of workers.
type AsyncDispatcher struct {
	inner  *Dispatcher
	queue  chan appointment.Event
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(inner *Dispatcher, workers, queueSize int) *AsyncDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	a := &AsyncDispatcher{
		inner:  inner,
		queue:  make(chan appointment.Event, queueSize),
		logger: inner.logger,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

func (a *AsyncDispatcher) work() {
	defer a.wg.Done()
	for ev := range a.queue {
		a.inner.Dispatch(context.Background(), ev)
	}
}

// Notify enqueues ev. When the queue is full, or the dispatcher is closed,
// the event is dispatched on the caller's goroutine instead of being lost.
func (a *AsyncDispatcher) Notify(ctx context.Context, ev appointment.Event) {
	a.mu.RLock()
	if !a.closed {
		select {
		case a.queue <- ev:
			a.mu.RUnlock()
			return
		default:
		}
	}
	a.mu.RUnlock()

	a.logger.Warn().Str("event_type", string(ev.Type)).Msg("notification queue unavailable, dispatching inline")
	a.inner.Dispatch(ctx, ev)
}

// Close stops accepting events and waits for the queue to drain.
func (a *AsyncDispatcher) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
