// Package router moves decoded input events from the transport into the
// session's controller. Every session gets an ordered inbox drained by a single
// worker goroutine, so a session's events are applied strictly in arrival
// order while sessions proceed independently.
package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/padlink/backend/internal/controller"
	"github.com/padlink/backend/internal/input"
	"github.com/padlink/backend/internal/metrics"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrDebounced      = errors.New("event debounced")
	ErrQueueFull      = errors.New("session inbox full")
	ErrAttached       = errors.New("session already attached")
)

// DefaultQueueLimit bounds a session inbox when Options.QueueLimit is unset.
const DefaultQueueLimit = 256

// AckFunc receives the clamped vibration echoed back to the client.
type AckFunc func(v controller.Vibration)

type Options struct {
	// Debounce drops a press or click arriving less than this long after the
	// last accepted press or click of any button in any session. Zero
	// disables it.
	Debounce   time.Duration
	QueueLimit int
	Now        func() time.Time
}

type Router struct {
	mu           sync.Mutex
	opts         Options
	log          zerolog.Logger
	inboxes      map[string]*inbox
	lastAccepted time.Time
}

func New(opts Options, log zerolog.Logger) *Router {
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		opts:    opts,
		log:     log,
		inboxes: make(map[string]*inbox),
	}
}

type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
	done   chan struct{}
	ctrl   controller.Controller
	ack    AckFunc
	log    zerolog.Logger
}

// Attach starts the worker for session id. ack may be nil.
func (r *Router) Attach(id string, ctrl controller.Controller, ack AckFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inboxes[id]; ok {
		return fmt.Errorf("attach %s: %w", id, ErrAttached)
	}
	in := &inbox{
		q:    queue.New(),
		done: make(chan struct{}),
		ctrl: ctrl,
		ack:  ack,
		log:  r.log.With().Str("session", id).Logger(),
	}
	in.cond = sync.NewCond(&in.mu)
	r.inboxes[id] = in
	go in.run()
	return nil
}

// Dispatch queues ev for session id.
func (r *Router) Dispatch(id string, ev input.Event) error {
	if err := ev.Validate(); err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropInvalid).Inc()
		return err
	}

	r.mu.Lock()
	in, ok := r.inboxes[id]
	if !ok {
		r.mu.Unlock()
		metrics.EventsDropped.WithLabelValues(metrics.DropUnknownSession).Inc()
		return ErrUnknownSession
	}
	if r.debounced(ev) {
		r.mu.Unlock()
		metrics.EventsDropped.WithLabelValues(metrics.DropDebounced).Inc()
		return ErrDebounced
	}
	r.mu.Unlock()

	return in.push(ev, r.opts.QueueLimit)
}

// debounced must be called with r.mu held. One window covers every button
// and session. Releases, moves and vibration requests always pass and do not
// restart the window, so held input cannot get stuck.
func (r *Router) debounced(ev input.Event) bool {
	if r.opts.Debounce <= 0 {
		return false
	}
	if ev.Kind != input.ButtonPress && ev.Kind != input.Click {
		return false
	}
	now := r.opts.Now()
	if !r.lastAccepted.IsZero() && now.Sub(r.lastAccepted) < r.opts.Debounce {
		return true
	}
	r.lastAccepted = now
	return false
}

// Detach stops accepting events for id, discards what is still queued and
// waits for the in-flight event to finish. It is idempotent.
func (r *Router) Detach(id string) {
	r.mu.Lock()
	in, ok := r.inboxes[id]
	delete(r.inboxes, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	in.close()
	<-in.done
}

// Sessions returns the number of attached sessions.
func (r *Router) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inboxes)
}

func (in *inbox) push(ev input.Event, limit int) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		metrics.EventsDropped.WithLabelValues(metrics.DropUnknownSession).Inc()
		return ErrUnknownSession
	}
	if in.q.Length() >= limit {
		metrics.EventsDropped.WithLabelValues(metrics.DropQueueFull).Inc()
		return ErrQueueFull
	}
	in.q.Add(ev)
	in.cond.Signal()
	return nil
}

func (in *inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	if n := in.q.Length(); n > 0 {
		in.log.Debug().Int("discarded", n).Msg("inbox closed with queued events")
	}
	in.q = queue.New()
	in.cond.Broadcast()
}

func (in *inbox) next() (input.Event, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for in.q.Length() == 0 && !in.closed {
		in.cond.Wait()
	}
	if in.closed {
		return input.Event{}, false
	}
	return in.q.Remove().(input.Event), true
}

func (in *inbox) run() {
	defer close(in.done)
	for {
		ev, ok := in.next()
		if !ok {
			return
		}
		in.handle(ev)
	}
}

func (in *inbox) handle(ev input.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			in.log.Error().Interface("panic", rec).Str("event", ev.Kind.String()).Msg("controller panicked")
		}
	}()
	switch ev.Kind {
	case input.ButtonPress:
		in.ctrl.OnButton(ev.Button, true)
	case input.ButtonRelease:
		in.ctrl.OnButton(ev.Button, false)
	case input.Move:
		in.ctrl.OnStickDelta(ev.Stick, ev.DX, ev.DY)
	case input.Click:
		in.ctrl.OnClick(ev.Mouse)
	case input.Vibrate:
		v := in.ctrl.OnVibrationRequest(ev.Intensity, ev.Duration)
		if in.ack != nil {
			in.ack(v)
		}
	}
	metrics.EventsHandled.WithLabelValues(ev.Kind.String()).Inc()
}
