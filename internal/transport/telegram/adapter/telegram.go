package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "atisbot/internal/runtime/supervisor"
	kit "atisbot/internal/transport"
	logx "atisbot/pkg/logx"
)

// Adapter is a kit.Session backed by the Telegram Bot API (long polling).
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	ready     chan struct{}
	readyOnce sync.Once

	chanMu    sync.Mutex
	chanCache map[string]kit.ChatTarget

	droppedUpdates uint64
}

var _ kit.Session = (*Adapter)(nil)

// New connects to Telegram (getMe) and registers update handlers. Polling
// starts with Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, log, b), nil
}

func newAdapter(cfg Config, log logx.Logger, b *tele.Bot) *Adapter {
	a := &Adapter{
		cfg:       cfg,
		log:       log,
		bot:       b,
		ready:     make(chan struct{}),
		chanCache: map[string]kit.ChatTarget{},
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := toUpdate(kit.UpdateMessage, c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		if up, ok := toUpdate(kit.UpdateChannelPost, c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

// toUpdate converts a telebot message. Channel posts may carry no Sender.
func toUpdate(kind kit.UpdateKind, m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil || m.Text == "" {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return kit.Update{Kind: kind, Message: msg}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

// Ready is closed once polling has started.
func (a *Adapter) Ready() <-chan struct{} { return a.ready }

func (a *Adapter) Identity() kit.Identity {
	if a.bot == nil || a.bot.Me == nil {
		return kit.Identity{}
	}
	return kit.Identity{ID: a.bot.Me.ID, Username: a.bot.Me.Username}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Each Start gets exactly one bot.Stop; a second call blocks forever on
	// telebot's unbuffered stop channel.
	var stopOnce sync.Once

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	// bot.Stop waits for a running bot.Start; skip it if polling never began.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		select {
		case <-a.ready:
			stopOnce.Do(a.bot.Stop)
		default:
		}
	})

	// bot.Start blocks until Stop. It can return early on some failures, so
	// it runs under a restart loop.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.String("username", a.Identity().Username))
		a.readyOnce.Do(func() { close(a.ready) })
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// LookupChannel resolves a channel name ("@name", "name" or a numeric chat
// id, optionally followed by "/<thread>") to a chat target. Results are cached.
func (a *Adapter) LookupChannel(ctx context.Context, name string) (kit.ChatTarget, error) {
	ref, err := parseChannelRef(name)
	if err != nil {
		return kit.ChatTarget{}, err
	}

	a.chanMu.Lock()
	if t, ok := a.chanCache[ref.key()]; ok {
		a.chanMu.Unlock()
		return t, nil
	}
	a.chanMu.Unlock()

	if err := ctx.Err(); err != nil {
		return kit.ChatTarget{}, err
	}

	t := kit.ChatTarget{ChatID: ref.chatID, ThreadID: ref.threadID, Name: name}
	if ref.username != "" {
		chat, err := a.bot.ChatByUsername(ref.username)
		if err != nil {
			if errors.Is(err, tele.ErrChatNotFound) {
				return kit.ChatTarget{}, fmt.Errorf("%w: %s", kit.ErrChannelNotFound, ref.username)
			}
			return kit.ChatTarget{}, fmt.Errorf("resolve %s: %w", ref.username, err)
		}
		if chat == nil {
			return kit.ChatTarget{}, fmt.Errorf("%w: %s", kit.ErrChannelNotFound, ref.username)
		}
		t.ChatID = chat.ID
	}

	a.chanMu.Lock()
	a.chanCache[ref.key()] = t
	a.chanMu.Unlock()
	a.log.Debug("channel resolved", logx.String("name", name), logx.Int64("chat_id", t.ChatID))
	return t, nil
}

type channelRef struct {
	username string // "@name"; empty when chatID is set
	chatID   int64
	threadID int
}

func (r channelRef) key() string {
	if r.username != "" {
		return strings.ToLower(r.username) + "/" + strconv.Itoa(r.threadID)
	}
	return strconv.FormatInt(r.chatID, 10) + "/" + strconv.Itoa(r.threadID)
}

func parseChannelRef(name string) (channelRef, error) {
	s := strings.TrimSpace(name)
	if s == "" {
		return channelRef{}, fmt.Errorf("%w: empty channel name", kit.ErrChannelNotFound)
	}
	var ref channelRef
	if base, thread, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || n < 0 {
			return channelRef{}, fmt.Errorf("invalid thread in channel %q", name)
		}
		ref.threadID = n
		s = strings.TrimSpace(base)
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if id == 0 {
			return channelRef{}, fmt.Errorf("invalid chat id in channel %q", name)
		}
		ref.chatID = id
		return ref, nil
	}
	s = strings.TrimPrefix(s, "@")
	if s == "" || strings.ContainsAny(s, " \t@") {
		return channelRef{}, fmt.Errorf("invalid channel name %q", name)
	}
	ref.username = "@" + s
	return ref, nil
}

const telegramTextLimit = 4096

// SendText sends text to the target. Text over Telegram's limit is split on
// line boundaries; the ref of the first part is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// splitText splits s into chunks of at most limit runes, preferring to cut
// after a newline in the last two thirds of the window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := start + limit
		if end >= len(rs) {
			out = append(out, strings.TrimRight(string(rs[start:]), "\n"))
			break
		}
		for i := end - 1; i-start >= limit/3; i-- {
			if rs[i] == '\n' {
				end = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
