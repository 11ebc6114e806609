package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"atisbot/internal/atis"
	"atisbot/internal/eventbus"
	kit "atisbot/internal/transport"
)

// fakeSource returns queued responses in order and counts calls.
type fakeSource struct {
	mu    sync.Mutex
	calls int
	queue []fetchResult
	// onFetch runs on every call, e.g. to advance a fake clock by the fetch latency.
	onFetch func()
}

type fetchResult struct {
	text  string
	err   error
	panic bool
}

func (s *fakeSource) push(rs ...fetchResult) {
	s.mu.Lock()
	s.queue = append(s.queue, rs...)
	s.mu.Unlock()
}

func (s *fakeSource) Fetch(ctx context.Context) (atis.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onFetch != nil {
		s.onFetch()
	}
	if len(s.queue) == 0 {
		return atis.Report{}, errors.New("no response queued")
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	if r.panic {
		panic("decoder exploded")
	}
	if r.err != nil {
		return atis.Report{}, r.err
	}
	return atis.Report{ICAO: "KPDX", Text: r.text, FetchedAt: time.Now().UTC()}, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakePublisher records sent messages; lookupErr/sendErr inject failures.
type fakePublisher struct {
	mu        sync.Mutex
	sent      []string
	lookupErr error
	sendErr   error
}

func (p *fakePublisher) LookupChannel(ctx context.Context, name string) (kit.ChatTarget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return kit.ChatTarget{}, p.lookupErr
	}
	return kit.ChatTarget{ChatID: -1001, Name: name}, nil
}

func (p *fakePublisher) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return kit.MessageRef{}, p.sendErr
	}
	p.sent = append(p.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(p.sent)}, nil
}

func (p *fakePublisher) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRelay(t *testing.T, src Source, pub Publisher, clk *fakeClock, opts ...Option) *Relay {
	t.Helper()
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	r, err := New(Config{Channel: "@kpdx_atis"}, src, pub, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func TestEndToEndThreeTicks(t *testing.T) {
	src := &fakeSource{}
	src.push(
		fetchResult{text: "WIND CALM"},
		fetchResult{text: "WIND CALM"},
		fetchResult{text: "WIND 270 AT 12"},
	)
	pub := &fakePublisher{}
	clk := newClock()
	r := newTestRelay(t, src, pub, clk)

	want := []Outcome{OutcomePublished, OutcomeUnchanged, OutcomePublished}
	for i, w := range want {
		if got := r.Tick(context.Background()).Outcome; got != w {
			t.Fatalf("tick %d outcome = %s, want %s", i, got, w)
		}
		clk.Advance(10 * time.Minute)
	}

	sent := pub.Sent()
	wantSent := []string{"ATIS Update: \nWIND CALM", "ATIS Update: \nWIND 270 AT 12"}
	if len(sent) != len(wantSent) {
		t.Fatalf("sent %d messages, want %d: %q", len(sent), len(wantSent), sent)
	}
	for i := range wantSent {
		if sent[i] != wantSent[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, sent[i], wantSent[i])
		}
	}
}

func TestIdenticalReportsPublishOnce(t *testing.T) {
	const n = 6
	src := &fakeSource{}
	for i := 0; i < n; i++ {
		src.push(fetchResult{text: "INFO B 1753Z"})
	}
	pub := &fakePublisher{}
	clk := newClock()
	r := newTestRelay(t, src, pub, clk)

	for i := 0; i < n; i++ {
		r.Tick(context.Background())
		clk.Advance(DefaultThreshold)
	}
	if got := len(pub.Sent()); got != 1 {
		t.Fatalf("published %d times, want 1", got)
	}
	if src.Calls() != n {
		t.Fatalf("fetched %d times, want %d", src.Calls(), n)
	}
}

func TestPublishComparesAgainstLastPublished(t *testing.T) {
	// A -> (publish fails for B) -> B: B must be published on the retry because
	// the last *published* text is still A.
	src := &fakeSource{}
	src.push(fetchResult{text: "A"}, fetchResult{text: "B"}, fetchResult{text: "B"}, fetchResult{text: "A"})
	pub := &fakePublisher{}
	clk := newClock()
	r := newTestRelay(t, src, pub, clk)

	r.Tick(context.Background())
	clk.Advance(DefaultThreshold)

	pub.mu.Lock()
	pub.sendErr = errors.New("telegram: bad gateway")
	pub.mu.Unlock()
	if got := r.Tick(context.Background()).Outcome; got != OutcomePublishFailed {
		t.Fatalf("outcome = %s, want publish_failed", got)
	}
	clk.Advance(DefaultThreshold)

	pub.mu.Lock()
	pub.sendErr = nil
	pub.mu.Unlock()
	if got := r.Tick(context.Background()).Outcome; got != OutcomePublished {
		t.Fatalf("retry outcome = %s, want published", got)
	}
	clk.Advance(DefaultThreshold)

	if got := r.Tick(context.Background()).Outcome; got != OutcomePublished {
		t.Fatalf("A after B outcome = %s, want published", got)
	}
	sent := pub.Sent()
	if len(sent) != 3 || !strings.HasSuffix(sent[2], "\nA") {
		t.Fatalf("sent = %q", sent)
	}
}

func TestTimestampGating(t *testing.T) {
	src := &fakeSource{}
	src.push(fetchResult{text: "WIND CALM"}, fetchResult{text: "WIND CALM"})
	pub := &fakePublisher{}
	clk := newClock()
	r := newTestRelay(t, src, pub, clk)

	r.Tick(context.Background())
	for _, step := range []time.Duration{time.Minute, 5 * time.Minute, 3*time.Minute + 59*time.Second} {
		clk.Advance(step)
		if got := r.Tick(context.Background()).Outcome; got != OutcomeSkipped {
			t.Fatalf("outcome = %s, want skipped", got)
		}
	}
	if src.Calls() != 1 {
		t.Fatalf("HTTP calls = %d before threshold, want 1", src.Calls())
	}
	clk.Advance(time.Second) // exactly 10m since last fetch
	if got := r.Tick(context.Background()).Outcome; got != OutcomeUnchanged {
		t.Fatalf("outcome at threshold = %s, want unchanged", got)
	}
	if src.Calls() != 2 {
		t.Fatalf("HTTP calls = %d, want 2", src.Calls())
	}
}

func TestMissingFieldPublishesFallback(t *testing.T) {
	src := &fakeSource{}
	src.push(
		fetchResult{text: "WIND CALM"},
		fetchResult{err: atis.ErrMissingReport},
		fetchResult{err: atis.ErrMissingReport},
		fetchResult{text: "WIND CALM"},
	)
	pub := &fakePublisher{}
	clk := newClock()
	r := newTestRelay(t, src, pub, clk)

	r.Tick(context.Background())
	clk.Advance(DefaultThreshold)
	for i := 0; i < 2; i++ {
		if got := r.Tick(context.Background()).Outcome; got != OutcomeMissing {
			t.Fatalf("outcome = %s, want missing", got)
		}
		// Missing still advances the fetch timestamp.
		clk.Advance(time.Minute)
		if got := r.Tick(context.Background()).Outcome; got != OutcomeSkipped {
			t.Fatalf("outcome after missing = %s, want skipped", got)
		}
		clk.Advance(DefaultThreshold)
	}
	// lastReport was not touched by the fallback, so WIND CALM is unchanged.
	if got := r.Tick(context.Background()).Outcome; got != OutcomeUnchanged {
		t.Fatalf("outcome = %s, want unchanged", got)
	}

	sent := pub.Sent()
	fallback := DefaultPrefix + DefaultMissingText
	if len(sent) != 3 || sent[1] != fallback || sent[2] != fallback {
		t.Fatalf("sent = %q, want report then fallback twice", sent)
	}
}

func TestFetchFailureDoesNotAdvanceTimestamp(t *testing.T) {
	src := &fakeSource{}
	src.push(
		fetchResult{err: &atis.StatusError{StatusCode: 503}},
		fetchResult{text: "WIND CALM"},
	)
	pub := &fakePublisher{}
	clk := newClock()
	r := newTestRelay(t, src, pub, clk)

	if got := r.Tick(context.Background()).Outcome; got != OutcomeFetchFailed {
		t.Fatalf("outcome = %s, want fetch_failed", got)
	}
	clk.Advance(time.Minute)
	// Timestamp was not advanced, so the next tick fetches immediately.
	if got := r.Tick(context.Background()).Outcome; got != OutcomePublished {
		t.Fatalf("outcome = %s, want published", got)
	}
	if len(pub.Sent()) != 1 {
		t.Fatalf("sent = %q", pub.Sent())
	}
}

func TestFailureContainment(t *testing.T) {
	tests := []struct {
		name      string
		fetch     fetchResult
		lookupErr error
		want      Outcome
	}{
		{name: "http error", fetch: fetchResult{err: &atis.StatusError{StatusCode: 500}}, want: OutcomeFetchFailed},
		{name: "malformed body", fetch: fetchResult{err: fmt.Errorf("decode atis response: %w", errors.New("unexpected EOF"))}, want: OutcomeFetchFailed},
		{name: "channel not found", fetch: fetchResult{text: "WIND CALM"}, lookupErr: kit.ErrChannelNotFound, want: OutcomePublishFailed},
		{name: "panic", fetch: fetchResult{panic: true}, want: OutcomeFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			src.push(tt.fetch, fetchResult{text: "NEXT"})
			pub := &fakePublisher{lookupErr: tt.lookupErr}
			clk := newClock()
			r := newTestRelay(t, src, pub, clk)

			res := r.Tick(context.Background())
			if res.Outcome != tt.want || res.Err == nil {
				t.Fatalf("result = %+v, want %s with error", res, tt.want)
			}
			if tt.lookupErr != nil && !errors.Is(res.Err, kit.ErrChannelNotFound) {
				t.Fatalf("err = %v, want ErrChannelNotFound", res.Err)
			}

			// The loop carries on: next eligible tick fetches and publishes.
			pub.mu.Lock()
			pub.lookupErr = nil
			pub.mu.Unlock()
			clk.Advance(DefaultThreshold)
			if got := r.Tick(context.Background()).Outcome; got != OutcomePublished {
				t.Fatalf("next outcome = %s, want published", got)
			}
		})
	}
}

func TestTruncatedPublish(t *testing.T) {
	long := strings.Repeat("RWY 28L ", 100)
	src := &fakeSource{}
	src.push(fetchResult{text: long})
	pub := &fakePublisher{}
	r := newTestRelay(t, src, pub, newClock())

	res := r.Tick(context.Background())
	if res.Outcome != OutcomePublished || !res.Truncated {
		t.Fatalf("result = %+v, want truncated publish", res)
	}
	sent := pub.Sent()[0]
	if n := utf8.RuneCountInString(sent); n != DefaultMaxLen {
		t.Fatalf("sent length = %d, want %d", n, DefaultMaxLen)
	}
	if !strings.HasSuffix(sent, "...") || !strings.HasPrefix(sent, DefaultPrefix) {
		t.Fatalf("sent = %q", sent)
	}
}

func TestTickPublishesEvent(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	src := &fakeSource{}
	src.push(fetchResult{text: "WIND CALM"})
	r := newTestRelay(t, src, &fakePublisher{}, newClock(), WithBus(bus))
	r.Tick(context.Background())

	select {
	case e := <-events:
		res, ok := e.Data.(TickResult)
		if e.Type != EventTick || !ok || res.Outcome != OutcomePublished || res.ID == "" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	st := r.Status()
	if st.Ticks != 1 || st.Published != 1 || st.LastOutcome != OutcomePublished || st.LastFetch.IsZero() {
		t.Fatalf("status = %+v", st)
	}
}

func TestRunTicksOnScheduleUntilCancelled(t *testing.T) {
	src := &fakeSource{}
	src.push(
		fetchResult{text: "WIND CALM"},
		fetchResult{text: "WIND CALM"},
		fetchResult{text: "WIND 270 AT 12"},
	)
	pub := &fakePublisher{}
	clk := newClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	wait := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		clk.Advance(d)
		if len(waits) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	r := newTestRelay(t, src, pub, clk, WithWait(wait))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	for _, d := range waits {
		if d != DefaultInterval {
			t.Fatalf("wait = %v, want %v", d, DefaultInterval)
		}
	}
	if src.Calls() != 3 || len(pub.Sent()) != 2 {
		t.Fatalf("calls=%d sent=%q", src.Calls(), pub.Sent())
	}
}

func TestRunFetchesEveryTickWhenIntervalEqualsThreshold(t *testing.T) {
	for _, expr := range []string{"10m", "00:10", "@every 10m", "*/10 * * * *"} {
		t.Run(expr, func(t *testing.T) {
			const ticks = 4
			sch, err := ParseSchedule(expr)
			if err != nil {
				t.Fatal(err)
			}
			// Start mid-second and let every fetch take 300ms.
			clk := &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 700*int(time.Millisecond), time.UTC)}
			src := &fakeSource{onFetch: func() { clk.Advance(300 * time.Millisecond) }}
			for i := 0; i < ticks; i++ {
				src.push(fetchResult{text: "WIND CALM"})
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			waits := 0
			wait := func(ctx context.Context, d time.Duration) error {
				clk.Advance(d)
				waits++
				if waits == ticks {
					cancel()
					return ctx.Err()
				}
				return nil
			}
			r, err := New(Config{Channel: "@kpdx_atis", Threshold: 10 * time.Minute, Schedule: sch},
				src, &fakePublisher{}, WithClock(clk.Now), WithWait(wait))
			if err != nil {
				t.Fatal(err)
			}
			if err := r.Run(ctx); err != nil {
				t.Fatalf("Run returned %v", err)
			}

			if got := src.Calls(); got != ticks {
				t.Fatalf("fetched %d times over %d ticks, want every tick", got, ticks)
			}
			if st := r.Status(); st.LastOutcome != OutcomeUnchanged {
				t.Fatalf("last outcome = %s, want unchanged", st.LastOutcome)
			}
		})
	}
}

func TestLastFetchKeptAtWholeSeconds(t *testing.T) {
	src := &fakeSource{}
	src.push(fetchResult{text: "WIND CALM"}, fetchResult{text: "WIND CALM"})
	clk := &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 700*int(time.Millisecond), time.UTC)}
	r := newTestRelay(t, src, &fakePublisher{}, clk)

	r.Tick(context.Background())
	if got, want := r.Status().LastFetch, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("LastFetch = %v, want %v", got, want)
	}

	// A cron wake-up on the next whole ten minutes must not be skipped.
	clk.Advance(10*time.Minute - 700*time.Millisecond)
	if got := r.Tick(context.Background()).Outcome; got != OutcomeUnchanged {
		t.Fatalf("outcome = %s, want unchanged", got)
	}
}

func TestNewRequiresChannel(t *testing.T) {
	if _, err := New(Config{}, &fakeSource{}, &fakePublisher{}); err == nil {
		t.Fatal("expected error for empty channel")
	}
}
