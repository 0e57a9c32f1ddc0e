// Package stream runs per-connection chart sessions: a delivery loop that
// pushes a fresh series, sleeps for the interval's delay and repeats, and can
// be reconfigured to a new interval/kind while running.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"coinfeed/internal/metrics"
	"coinfeed/internal/model"
)

// State is the session lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateReconfiguring
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateReconfiguring:
		return "reconfiguring"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	ErrTerminated     = errors.New("session terminated")
	ErrAlreadyStarted = errors.New("session already started")
)

// SeriesSource computes one series. *chart.Service satisfies it.
type SeriesSource interface {
	Series(ctx context.Context, slug string, interval model.Interval, kind model.ChartKind) ([]model.ChartPoint, error)
}

// Pusher delivers one frame to the client. It must be safe for concurrent use
// and return promptly once ctx is done.
type Pusher interface {
	Push(ctx context.Context, frame any) error
}

// PusherFunc adapts a function to Pusher.
type PusherFunc func(ctx context.Context, frame any) error

func (f PusherFunc) Push(ctx context.Context, frame any) error { return f(ctx, frame) }

// ReconfiguredFrame confirms a successful reconfigure.
type ReconfiguredFrame struct {
	Type     string          `json:"type"` // "reconfigured"
	Interval model.Interval  `json:"interval"`
	Kind     model.ChartKind `json:"kind"`
}

// ErrorFrame reports a failure to the client.
type ErrorFrame struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

func errorFrame(err error) ErrorFrame { return ErrorFrame{Type: "error", Error: err.Error()} }

// Option customizes a Session.
type Option func(*Session)

// WithDelay overrides the per-interval pause between pushes.
func WithDelay(fn func(model.Interval) time.Duration) Option {
	return func(s *Session) { s.delay = fn }
}

// WithOnClose registers a callback run once when the session terminates.
func WithOnClose(fn func()) Option {
	return func(s *Session) { s.onClose = fn }
}

// Session is one client's chart stream. Lifecycle calls are serialized; at
// most one delivery task runs at any time.
type Session struct {
	slug    string
	src     SeriesSource
	pusher  Pusher
	log     *slog.Logger
	metrics *metrics.Metrics
	delay   func(model.Interval) time.Duration
	onClose func()

	mu       sync.Mutex // serializes Connect/Reconfigure/Disconnect
	state    atomic.Int32
	interval model.Interval
	kind     model.ChartKind
	cancel   context.CancelFunc
	done     chan struct{}

	active    atomic.Int32
	closeOnce sync.Once
}

// NewSession builds an idle session for slug. m may be nil.
func NewSession(slug string, src SeriesSource, p Pusher, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Session {
	s := &Session{
		slug:    slug,
		src:     src,
		pusher:  p,
		log:     log.With("component", "stream", "slug", slug),
		metrics: m,
		delay:   model.Interval.PushDelay,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// ActiveTasks returns the number of delivery loops currently running.
func (s *Session) ActiveTasks() int { return int(s.active.Load()) }

// Config returns the current interval and kind.
func (s *Session) Config() (model.Interval, model.ChartKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval, s.kind
}

// Connect starts the delivery loop with the daily line defaults. The loop
// lives until Disconnect, a failure, or parent being done.
func (s *Session) Connect(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) != StateIdle {
		return ErrAlreadyStarted
	}
	s.interval = model.IntervalDaily
	s.kind = model.KindLine
	s.state.Store(int32(StateActive))
	s.metrics.SessionOpened()
	s.log.Info("session connected")
	s.start(parent)
	return nil
}

// Reconfigure switches the running session to interval/kind. Invalid input
// is reported to the client and leaves the current loop untouched.
func (s *Session) Reconfigure(parent context.Context, interval, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) == StateTerminated {
		s.pushDetached(errorFrame(ErrTerminated))
		return ErrTerminated
	}
	if State(s.state.Load()) == StateIdle {
		return fmt.Errorf("reconfigure before connect")
	}

	iv, k := model.Interval(interval), model.ChartKind(kind)
	var verr error
	switch {
	case !iv.Valid():
		verr = &model.ValidationError{Field: "interval", Value: interval}
	case !k.Valid():
		verr = &model.ValidationError{Field: "kind", Value: kind}
	}
	if verr != nil {
		s.log.Warn("rejected reconfigure", "err", verr)
		s.pushDetached(errorFrame(verr))
		return verr
	}

	s.state.Store(int32(StateReconfiguring))
	s.stop()
	s.interval, s.kind = iv, k
	s.state.Store(int32(StateActive))
	s.start(parent)
	s.metrics.Reconfigured()
	s.log.Info("session reconfigured", "interval", iv, "kind", k)

	s.pushDetached(ReconfiguredFrame{Type: "reconfigured", Interval: iv, Kind: k})
	return nil
}

// Disconnect stops the loop and waits for it to exit. No push happens after
// it returns. Safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := State(s.state.Swap(int32(StateTerminated)))
	s.stop()
	if prev == StateIdle {
		return
	}
	if prev != StateTerminated {
		s.log.Info("session disconnected")
	}
	s.finish()
}

// start spawns a delivery task for the current config. Caller holds mu.
func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.active.Add(1)
	go s.run(ctx, s.interval, s.kind, done)
}

// stop cancels the current task and awaits its exit. Caller holds mu.
func (s *Session) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

func (s *Session) run(ctx context.Context, interval model.Interval, kind model.ChartKind, done chan struct{}) {
	defer close(done)
	defer s.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, fmt.Errorf("internal error: %v", r))
		}
	}()

	for {
		points, err := s.src.Series(ctx, s.slug, interval, kind)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.fail(ctx, err)
			return
		}

		frame := model.SeriesFrame{Type: "data", Slug: s.slug, Interval: interval, Kind: kind, Data: points}
		if err := s.pusher.Push(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, fmt.Errorf("push: %w", err))
			return
		}
		s.metrics.Pushed()

		t := time.NewTimer(s.delay(interval))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// fail reports err to the client and terminates the session from inside the
// loop. It does not take mu: a lifecycle call may be waiting on this task.
func (s *Session) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	s.log.Error("stream failed", "err", err)
	s.metrics.StreamFailed()
	s.pusher.Push(ctx, errorFrame(err))
	if s.state.CompareAndSwap(int32(StateActive), int32(StateTerminated)) {
		s.finish()
	}
}

// pushDetached sends a control frame outside any delivery task.
func (s *Session) pushDetached(frame any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pusher.Push(ctx, frame); err != nil {
		s.log.Debug("control frame dropped", "err", err)
	}
}

func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.metrics.SessionClosed()
		if s.onClose != nil {
			s.onClose()
		}
	})
}
