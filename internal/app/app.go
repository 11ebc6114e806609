package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"atisbot/internal/atis"
	"atisbot/internal/config"
	"atisbot/internal/eventbus"
	"atisbot/internal/metrics"
	"atisbot/internal/relay"
	rtsup "atisbot/internal/runtime/supervisor"
	kit "atisbot/internal/transport"
	telegram "atisbot/internal/transport/telegram/adapter"
	"atisbot/internal/transport/telegram/router"
	logx "atisbot/pkg/logx"
	"atisbot/pkg/systemd"
)

// App wires the chat session, the relay loop and their supporting services.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	session kit.Session
	relay   *relay.Relay
	router  *router.Dispatcher
	metrics *metrics.Collector
	ops     *metrics.Server

	updates chan kit.Update
}

// New loads the config file and connects to Telegram.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	return NewWithSession(cfgm, ad)
}

// NewWithSession builds the app around an already connected session. cfgm must
// hold a loaded config.
func NewWithSession(cfgm *config.Manager, session kit.Session) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}

	// The chat sink is enabled only after the log chat is resolved, so the
	// first Apply does not mirror lines to an unset target.
	logCfg := cfg.LogConfig()
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, session)
	log := root.With(logx.String("comp", "app"))

	atisCfg, err := cfg.ATISClient()
	if err != nil {
		return nil, err
	}
	client, err := atis.NewClient(atisCfg)
	if err != nil {
		return nil, err
	}

	relayCfg, err := cfg.RelayLoop()
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	rl, err := relay.New(relayCfg, client, session,
		relay.WithBus(bus),
		relay.WithLogger(root.With(logx.String("comp", "relay"), logx.String("icao", atisCfg.ICAO))),
	)
	if err != nil {
		return nil, err
	}

	disp := router.New(session, session.Identity,
		router.WithPrefix(cfg.Commands.Prefix),
		router.WithLogger(root.With(logx.String("comp", "commands"))),
	)

	collector := metrics.New()
	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		session: session,
		relay:   rl,
		router:  disp,
		metrics: collector,
		updates: make(chan kit.Update, 256),
	}
	a.ops = metrics.NewServer(cfg.MetricsServer(), collector, a.health,
		root.With(logx.String("comp", "metrics")))
	a.registerCommands(client.Endpoint())

	log.Info("app configured",
		logx.String("icao", atisCfg.ICAO),
		logx.String("channel", relayCfg.Channel),
		logx.String("endpoint", client.Endpoint()),
	)
	return a, nil
}

// registerCommands adds chat commands that read relay status. They never
// change relay state.
func (a *App) registerCommands(endpoint string) {
	a.router.Register(router.Command{
		Name:        "status",
		Description: "show relay status",
		Handle: func(ctx context.Context, req *router.Request) error {
			st := a.relay.Status()
			last := "never"
			if !st.LastFetch.IsZero() {
				last = st.LastFetch.Format(time.RFC3339)
			}
			return req.Reply(ctx, fmt.Sprintf("ticks: %d\npublished: %d\nlast outcome: %s\nlast fetch: %s\nsource: %s",
				st.Ticks, st.Published, st.LastOutcome, last, endpoint))
		},
	})
}

// Health is the /healthz body.
type Health struct {
	Status  string       `json:"status"`
	Relay   relay.Status `json:"relay"`
	Started uint64       `json:"goroutines_started"`
	Active  int64        `json:"goroutines_active"`
}

func (a *App) health() any {
	h := Health{Status: "ok", Relay: a.relay.Status()}
	if a.sup != nil {
		c := a.sup.Counters()
		h.Started, h.Active = c.Started, c.Active
		if a.sup.Err() != nil {
			h.Status = "failing"
		}
	}
	return h
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Relay() *relay.Relay { return a.relay }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	initial := a.cfg

	if err := a.session.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	// The loop must not publish before the session is ready.
	a.sup.Go("relay.run", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.session.Ready():
		}
		a.applyLogChat(c, initial)
		systemd.Ready(a.log, "relaying "+initial.ATIS.ICAO)
		return a.relay.Run(c)
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.sup.Go0("metrics.consume", func(c context.Context) {
		a.metrics.Consume(c, a.bus)
	})
	a.ops.Start(a.sup.Context())

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log)
	})

	if a.log.Enabled(logx.LevelDebug) {
		a.sup.Go0("eventbus.log", func(c context.Context) {
			eventbus.Consume(c, a.bus, 64, func(e eventbus.Event) {
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			})
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable sections and warns about the rest.
func (a *App) applyConfig(ctx context.Context, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(a.cfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		a.cfg = newCfg
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if restart {
		a.log.Warn("config changes require a restart to take effect", fields...)
	}

	a.applyLogChat(ctx, newCfg)
	a.router.SetPrefix(newCfg.Commands.Prefix)
	a.cfg = newCfg
	a.log.Info("config reloaded", fields...)
}

// applyLogChat resolves the log chat and applies the logging config.
func (a *App) applyLogChat(ctx context.Context, cfg *config.Config) {
	logCfg := cfg.LogConfig()
	name := strings.TrimSpace(cfg.Telegram.LogChat)
	if name == "" {
		a.logs.SetChatTarget(kit.ChatTarget{})
		logCfg.Chat.Enabled = false
		a.logs.Apply(logCfg)
		return
	}
	lctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	to, err := a.session.LookupChannel(lctx, name)
	if err != nil {
		a.log.Warn("log chat unavailable; chat log sink disabled", logx.String("log_chat", name), logx.Err(err))
		logCfg.Chat.Enabled = false
	} else {
		a.logs.SetChatTarget(to)
	}
	a.logs.Apply(logCfg)
}

// Run starts the app and blocks until ctx is done or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), StopFatalError)
		return err
	}
	<-a.Done()

	reason := StopSignal
	err := a.Err()
	if err != nil {
		reason = StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping(a.log)
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall shutdown.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("session", 2*time.Second, func(c context.Context) error { return a.session.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && c.Err() != nil {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
