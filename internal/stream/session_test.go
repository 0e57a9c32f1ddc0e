package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coinfeed/internal/logger"
	"coinfeed/internal/model"
)

type fakeSource struct {
	err      error
	panicMsg string

	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeSource) Series(ctx context.Context, slug string, interval model.Interval, kind model.ChartKind) ([]model.ChartPoint, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.calls.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	// give an overlapping task a chance to show up
	time.Sleep(time.Millisecond)
	return []model.ChartPoint{model.LinePoint(1700000000000, 50000)}, nil
}

type recorder struct {
	mu     sync.Mutex
	frames []any
}

func (r *recorder) Push(ctx context.Context, frame any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.frames...)
}

func (r *recorder) count(match func(any) bool) int {
	n := 0
	for _, f := range r.snapshot() {
		if match(f) {
			n++
		}
	}
	return n
}

func isData(f any) bool  { _, ok := f.(model.SeriesFrame); return ok }
func isError(f any) bool { _, ok := f.(ErrorFrame); return ok }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fixedDelay(d time.Duration) Option {
	return WithDelay(func(model.Interval) time.Duration { return d })
}

func TestSession_ConnectPushesDailyLine(t *testing.T) {
	rec := &recorder{}
	s := NewSession("bitcoin", &fakeSource{}, rec, logger.Discard(), nil, fixedDelay(time.Hour))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()

	waitFor(t, "first push", func() bool { return rec.count(isData) == 1 })
	f := rec.snapshot()[0].(model.SeriesFrame)
	if f.Type != "data" || f.Slug != "bitcoin" || f.Interval != model.IntervalDaily || f.Kind != model.KindLine {
		t.Errorf("unexpected frame %+v", f)
	}
	if s.State() != StateActive {
		t.Errorf("state: got %v", s.State())
	}

	// long delay: no second push
	time.Sleep(30 * time.Millisecond)
	if n := rec.count(isData); n != 1 {
		t.Errorf("pushes during delay: got %d, want 1", n)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second connect: got %v", err)
	}
}

func TestSession_LoopRepeatsAfterDelay(t *testing.T) {
	rec := &recorder{}
	s := NewSession("bitcoin", &fakeSource{}, rec, logger.Discard(), nil, fixedDelay(5*time.Millisecond))
	s.Connect(context.Background())
	defer s.Disconnect()
	waitFor(t, "three pushes", func() bool { return rec.count(isData) >= 3 })
}

func TestSession_RapidReconfigureLeavesOneTask(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	s := NewSession("bitcoin", src, rec, logger.Discard(), nil, fixedDelay(time.Millisecond))
	ctx := context.Background()
	s.Connect(ctx)
	defer s.Disconnect()

	var wg sync.WaitGroup
	configs := [][2]string{{"5min", "candlestick"}, {"hourly", "line"}, {"daily", "candlestick"}, {"5min", "line"}}
	for _, c := range configs {
		wg.Add(1)
		go func(iv, k string) {
			defer wg.Done()
			if err := s.Reconfigure(ctx, iv, k); err != nil {
				t.Errorf("reconfigure %s/%s: %v", iv, k, err)
			}
		}(c[0], c[1])
	}
	wg.Wait()

	if n := s.ActiveTasks(); n != 1 {
		t.Fatalf("active tasks after reconfigure: got %d, want 1", n)
	}
	time.Sleep(20 * time.Millisecond)
	if m := src.maxSeen.Load(); m > 1 {
		t.Fatalf("two delivery tasks overlapped (max concurrent series calls %d)", m)
	}

	iv, k := s.Config()
	last := rec.snapshot()
	var lastData model.SeriesFrame
	for i := len(last) - 1; i >= 0; i-- {
		if f, ok := last[i].(model.SeriesFrame); ok {
			lastData = f
			break
		}
	}
	if lastData.Interval != iv || lastData.Kind != k {
		t.Errorf("latest push %s/%s does not match config %s/%s", lastData.Interval, lastData.Kind, iv, k)
	}
	if n := rec.count(func(f any) bool { _, ok := f.(ReconfiguredFrame); return ok }); n != len(configs) {
		t.Errorf("confirmations: got %d, want %d", n, len(configs))
	}
}

func TestSession_InvalidReconfigureKeepsRunning(t *testing.T) {
	rec := &recorder{}
	s := NewSession("bitcoin", &fakeSource{}, rec, logger.Discard(), nil, fixedDelay(time.Hour))
	ctx := context.Background()
	s.Connect(ctx)
	defer s.Disconnect()
	waitFor(t, "first push", func() bool { return rec.count(isData) == 1 })

	for _, in := range [][2]string{{"weekly", "line"}, {"daily", "bars"}, {"", ""}} {
		err := s.Reconfigure(ctx, in[0], in[1])
		if !model.IsValidation(err) {
			t.Errorf("reconfigure %v: got %v, want validation error", in, err)
		}
	}
	if n := rec.count(isError); n != 3 {
		t.Errorf("error frames: got %d, want 3", n)
	}
	iv, k := s.Config()
	if iv != model.IntervalDaily || k != model.KindLine {
		t.Errorf("config changed to %s/%s", iv, k)
	}
	if s.State() != StateActive || s.ActiveTasks() != 1 {
		t.Errorf("state %v, tasks %d", s.State(), s.ActiveTasks())
	}
	if n := rec.count(isData); n != 1 {
		t.Errorf("invalid reconfigure restarted the loop: %d pushes", n)
	}
}

func TestSession_ErrorTerminates(t *testing.T) {
	src := &fakeSource{err: &model.FetchError{Key: "chart_data_x_daily_line", Err: errors.New("boom")}}
	rec := &recorder{}
	closed := make(chan struct{})
	s := NewSession("x", src, rec, logger.Discard(), nil, fixedDelay(time.Millisecond),
		WithOnClose(func() { close(closed) }))
	s.Connect(context.Background())

	waitFor(t, "termination", func() bool { return s.State() == StateTerminated && s.ActiveTasks() == 0 })
	<-closed
	if n := rec.count(isError); n != 1 {
		t.Fatalf("error frames: got %d, want 1", n)
	}
	if rec.count(isData) != 0 {
		t.Error("data pushed despite failing source")
	}
	time.Sleep(20 * time.Millisecond)
	if c := src.calls.Load(); c != 1 {
		t.Errorf("loop restarted after error: %d calls", c)
	}

	if err := s.Reconfigure(context.Background(), "hourly", "line"); !errors.Is(err, ErrTerminated) {
		t.Errorf("reconfigure after termination: got %v", err)
	}
	if n := rec.count(isError); n != 2 {
		t.Errorf("expected an error frame for the late reconfigure, got %d error frames", n)
	}
	s.Disconnect()
}

func TestSession_PanicIsReported(t *testing.T) {
	rec := &recorder{}
	s := NewSession("x", &fakeSource{panicMsg: "bad"}, rec, logger.Discard(), nil)
	s.Connect(context.Background())
	waitFor(t, "termination", func() bool { return s.State() == StateTerminated && s.ActiveTasks() == 0 })
	if rec.count(isError) != 1 {
		t.Error("panic not reported as an error frame")
	}
}

func TestSession_DisconnectStopsPushes(t *testing.T) {
	rec := &recorder{}
	s := NewSession("bitcoin", &fakeSource{}, rec, logger.Discard(), nil, fixedDelay(time.Millisecond))
	s.Connect(context.Background())
	waitFor(t, "pushes", func() bool { return rec.count(isData) >= 2 })

	s.Disconnect()
	if s.State() != StateTerminated || s.ActiveTasks() != 0 {
		t.Fatalf("after disconnect: state %v, tasks %d", s.State(), s.ActiveTasks())
	}
	n := len(rec.snapshot())
	time.Sleep(20 * time.Millisecond)
	if m := len(rec.snapshot()); m != n {
		t.Errorf("pushes after disconnect: %d -> %d", n, m)
	}
	s.Disconnect() // idempotent
}

func TestSession_ParentCancelStopsLoop(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession("bitcoin", &fakeSource{}, rec, logger.Discard(), nil, fixedDelay(time.Millisecond))
	s.Connect(ctx)
	waitFor(t, "push", func() bool { return rec.count(isData) >= 1 })
	cancel()
	waitFor(t, "loop exit", func() bool { return s.ActiveTasks() == 0 })
	if rec.count(isError) != 0 {
		t.Error("cancellation reported as an error")
	}
	s.Disconnect()
}

func TestDefaultDelayFollowsInterval(t *testing.T) {
	s := NewSession("x", &fakeSource{}, &recorder{}, logger.Discard(), nil)
	if got := s.delay(model.IntervalFiveMin); got != 300*time.Second {
		t.Errorf("5min delay: %v", got)
	}
	if got := s.delay(model.Interval("other")); got != 60*time.Second {
		t.Errorf("default delay: %v", got)
	}
}
