package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"atisbot/internal/atis"
	"atisbot/internal/eventbus"
	kit "atisbot/internal/transport"
	logx "atisbot/pkg/logx"
)

const (
	// DefaultThreshold is the minimum age of the last fetch before polling again.
	DefaultThreshold = 10 * time.Minute
	// DefaultInterval is the pause between two ticks.
	DefaultInterval = 10 * time.Minute
	// MinThreshold bounds configured thresholds.
	MinThreshold = time.Second

	defaultSendTimeout = 30 * time.Second

	// lastFetch is stored at the resolution of cron schedules so a wake-up on
	// a whole second is never a fraction short of the threshold.
	fetchResolution = time.Second
)

// Source fetches the current report. It returns atis.ErrMissingReport when the
// provider answered without a report; every other error is transient.
type Source interface {
	Fetch(ctx context.Context) (atis.Report, error)
}

// Publisher resolves the target channel and sends text to it.
type Publisher interface {
	kit.Sender
	LookupChannel(ctx context.Context, name string) (kit.ChatTarget, error)
}

type Config struct {
	// Channel is the chat channel name reports are posted to.
	Channel string

	Threshold time.Duration
	Schedule  Schedule

	Prefix      string
	MaxLen      int
	MissingText string

	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Schedule == nil {
		c.Schedule = Every(DefaultInterval)
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxLen <= 0 {
		c.MaxLen = DefaultMaxLen
	}
	if c.MissingText == "" {
		c.MissingText = DefaultMissingText
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Relay is the poll/dedup/publish loop.
//
// lastFetch and lastReport belong to the goroutine running Tick/Run; Tick must
// not be called concurrently. Status() is safe from any goroutine.
type Relay struct {
	cfg Config
	src Source
	pub Publisher
	bus eventbus.Bus
	log logx.Logger

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error

	lastFetch  time.Time // UTC; zero means never
	lastReport string    // last published text; empty means none yet

	statusMu sync.Mutex
	status   Status
}

type Option func(*Relay)

func WithBus(bus eventbus.Bus) Option { return func(r *Relay) { r.bus = bus } }

func WithLogger(log logx.Logger) Option { return func(r *Relay) { r.log = log } }

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

// WithWait replaces the inter-tick sleep (tests).
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Relay) { r.wait = wait }
}

func New(cfg Config, src Source, pub Publisher, opts ...Option) (*Relay, error) {
	if src == nil {
		return nil, errors.New("relay: source is nil")
	}
	if pub == nil {
		return nil, errors.New("relay: publisher is nil")
	}
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("relay: channel is required")
	}
	r := &Relay{
		cfg:  cfg,
		src:  src,
		pub:  pub,
		log:  logx.Nop(),
		now:  time.Now,
		wait: sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run ticks until ctx is cancelled. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay started",
		logx.String("channel", r.cfg.Channel),
		logx.Duration("threshold", r.cfg.Threshold),
	)
	for {
		if ctx.Err() != nil {
			r.log.Info("relay stopped")
			return nil
		}
		r.Tick(ctx)

		now := r.now()
		next := r.cfg.Schedule.Next(now)
		r.log.Debug("next tick scheduled", logx.Time("at", next))
		if err := r.wait(ctx, next.Sub(now)); err != nil {
			r.log.Info("relay stopped")
			return nil
		}
	}
}

// Tick runs one decision cycle. Nothing inside it propagates past it.
func (r *Relay) Tick(ctx context.Context) (res TickResult) {
	start := r.now()
	now := start.UTC()
	res = TickResult{ID: uuid.NewString(), At: now, Outcome: OutcomeSkipped}
	log := r.log.With(logx.String("tick", res.ID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("tick panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			res.Outcome = OutcomeFetchFailed
			res.Err = fmt.Errorf("panic: %v", p)
		}
		res.Duration = r.now().Sub(start)
		r.record(res)
	}()

	if elapsed := now.Sub(r.lastFetch); elapsed < r.cfg.Threshold {
		log.Debug("fetch not due", logx.Duration("elapsed", elapsed))
		return res
	}

	log.Info("Fetching ATIS data...")
	rep, err := r.src.Fetch(ctx)
	switch {
	case err == nil:
		log.Info("Fetched ATIS data successfully.", logx.Int("len", len(rep.Text)))
		log.Debug("ATIS data response", logx.String("text", rep.Text))
		res.Outcome = OutcomeUnchanged
		if rep.Text != r.lastReport {
			res.Truncated, res.Err = r.publish(ctx, log, rep.Text)
			if res.Err != nil {
				res.Outcome = OutcomePublishFailed
			} else {
				res.Outcome = OutcomePublished
				r.lastReport = rep.Text
			}
		} else {
			log.Debug("ATIS unchanged; not posting")
		}
		r.lastFetch = now.Truncate(fetchResolution)

	case atis.IsMissing(err):
		log.Warn("No ATIS information found in response.")
		res.Outcome = OutcomeMissing
		res.Truncated, res.Err = r.publish(ctx, log, r.cfg.MissingText)
		r.lastFetch = now.Truncate(fetchResolution)

	default:
		log.Warn("Failed to fetch ATIS data.", logx.Err(err))
		res.Outcome = OutcomeFetchFailed
		res.Err = err
	}
	return res
}

// publish formats text and sends it to the configured channel.
func (r *Relay) publish(ctx context.Context, log logx.Logger, text string) (truncated bool, err error) {
	msg, origLen, truncated := FormatMessage(r.cfg.Prefix, text, r.cfg.MaxLen)
	if truncated {
		log.Warn("ATIS info exceeds message limit; truncated",
			logx.Int("length", origLen),
			logx.Int("limit", r.cfg.MaxLen),
		)
	} else {
		log.Debug("ATIS info length", logx.Int("length", origLen))
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	to, err := r.pub.LookupChannel(sctx, r.cfg.Channel)
	if err != nil {
		log.Error("Failed to get channel", logx.String("channel", r.cfg.Channel), logx.Err(err))
		return truncated, fmt.Errorf("lookup channel %q: %w", r.cfg.Channel, err)
	}
	if _, err := r.pub.SendText(sctx, to, msg, &kit.SendOptions{DisablePreview: true}); err != nil {
		log.Error("Failed to post ATIS update", logx.String("channel", r.cfg.Channel), logx.Err(err))
		return truncated, fmt.Errorf("send to %q: %w", r.cfg.Channel, err)
	}
	log.Info("Posted ATIS update to chat.", logx.String("channel", r.cfg.Channel))
	return truncated, nil
}

func (r *Relay) record(res TickResult) {
	r.statusMu.Lock()
	r.status.Ticks++
	r.status.LastTick = res.At
	r.status.LastOutcome = res.Outcome
	r.status.LastError = ""
	if res.Err != nil {
		r.status.LastError = res.Err.Error()
	}
	r.status.LastFetch = r.lastFetch
	if res.Outcome == OutcomePublished || (res.Outcome == OutcomeMissing && res.Err == nil) {
		r.status.Published++
		r.status.LastPublish = res.At
	}
	r.statusMu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: EventTick, Time: res.At, Data: res})
	}
}

// Status returns a copy of the loop's observable state.
func (r *Relay) Status() Status {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.status
}
