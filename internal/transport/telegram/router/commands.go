package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	rtsup "atisbot/internal/runtime/supervisor"
	kit "atisbot/internal/transport"
	logx "atisbot/pkg/logx"
)

// DefaultPrefix marks a chat message as a command.
const DefaultPrefix = "!"

const defaultCommandTimeout = 10 * time.Second

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string
	Logger       logx.Logger

	reply func(ctx context.Context, text string) error
}

// Reply sends text back to the chat the command came from. Replies are rate
// limited per chat; a limited reply is dropped silently.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.reply == nil {
		return nil
	}
	return r.reply(ctx, text)
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Dispatcher routes incoming chat updates to commands. It ignores the bot's
// own messages, plain text and unknown commands.
type Dispatcher struct {
	sender kit.Sender
	self   func() kit.Identity
	log    logx.Logger

	mu     sync.RWMutex
	prefix string
	cmds   map[string]*Command // name and aliases, lowercase
	list   []Command

	limMu      sync.Mutex
	limiters   map[int64]*rate.Limiter
	replyRate  rate.Limit
	replyBurst int

	jobs    chan func()
	workers int
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func WithPrefix(p string) Option { return func(d *Dispatcher) { d.prefix = p } }

// WithReplyLimit sets the per-chat reply rate.
func WithReplyLimit(per time.Duration, burst int) Option {
	return func(d *Dispatcher) {
		if per > 0 {
			d.replyRate = rate.Every(per)
		}
		if burst > 0 {
			d.replyBurst = burst
		}
	}
}

func WithWorkers(n int) Option { return func(d *Dispatcher) { d.workers = n } }

// New returns a dispatcher with the built-in ping and help commands.
// self reports the session identity used for echo filtering.
func New(sender kit.Sender, self func() kit.Identity, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:     sender,
		self:       self,
		log:        logx.Nop(),
		prefix:     DefaultPrefix,
		cmds:       map[string]*Command{},
		limiters:   map[int64]*rate.Limiter{},
		replyRate:  rate.Every(3 * time.Second),
		replyBurst: 3,
		jobs:       make(chan func(), 64),
	}
	for _, o := range opts {
		o(d)
	}
	if d.workers <= 0 {
		d.workers = min(runtime.NumCPU(), 4)
	}
	d.Register(Command{
		Name:        "ping",
		Description: "check the bot is alive",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "pong")
		},
	})
	d.Register(Command{
		Name:        "help",
		Aliases:     []string{"commands"},
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, helpText(d.Prefix(), d.Commands()))
		},
	})
	return d
}

// Register adds or replaces a command.
func (d *Dispatcher) Register(c Command) {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.list[:0]
	for _, old := range d.list {
		if old.Name != name {
			kept = append(kept, old)
		}
	}
	d.list = append(kept, c)

	// Aliases of a replaced command must not keep routing to its old handler.
	if prev, ok := d.cmds[name]; ok && prev.Name == name {
		for _, a := range prev.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if cur, ok := d.cmds[a]; ok && cur == prev {
				delete(d.cmds, a)
			}
		}
	}
	cp := c
	d.cmds[name] = &cp
	for _, a := range c.Aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			d.cmds[a] = &cp
		}
	}
}

func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Command(nil), d.list...)
}

func (d *Dispatcher) Prefix() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prefix
}

// SetPrefix changes the command prefix. Safe during hot reload.
func (d *Dispatcher) SetPrefix(p string) {
	if p = strings.TrimSpace(p); p == "" {
		p = DefaultPrefix
	}
	d.mu.Lock()
	d.prefix = p
	d.mu.Unlock()
}

// Run consumes updates until ctx is done or updates is closed. Commands run
// on a small restartable worker pool.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(d.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < d.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-d.jobs:
					job()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	d.log.Info("command dispatcher started", logx.Int("workers", d.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job, ok := d.prepare(up)
			if !ok {
				continue
			}
			select {
			case d.jobs <- func() { _ = job(ctx) }:
			default:
				d.log.Warn("command queue full; dropping", logx.Int("cap", cap(d.jobs)))
			}
		}
	}
}

// Dispatch handles one update synchronously. It reports whether a command ran.
func (d *Dispatcher) Dispatch(ctx context.Context, up kit.Update) (bool, error) {
	job, ok := d.prepare(up)
	if !ok {
		return false, nil
	}
	return true, job(ctx)
}

// prepare resolves an update to a ready-to-run command invocation.
func (d *Dispatcher) prepare(up kit.Update) (func(ctx context.Context) error, bool) {
	msg := up.Message
	if msg == nil || d.isSelf(msg) {
		return nil, false
	}
	name, args, ok := parseCommand(d.Prefix(), msg.Text)
	if !ok {
		return nil, false
	}
	d.mu.RLock()
	cmd, found := d.cmds[name]
	d.mu.RUnlock()
	if !found {
		return nil, false
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	rid := uuid.NewString()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         args,
		ReqID:        rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	req.reply = func(ctx context.Context, text string) error {
		if !d.limiter(chat.ChatID).Allow() {
			req.Logger.Debug("reply rate limited")
			return nil
		}
		_, err := d.sender.SendText(ctx, chat, text, &kit.SendOptions{DisablePreview: true})
		return err
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(timeout),
	)
	return func(ctx context.Context) error { return final(ctx, req) }, true
}

func (d *Dispatcher) isSelf(msg *kit.Message) bool {
	if d.self == nil {
		return false
	}
	id := d.self()
	if id.ID != 0 && msg.FromID == id.ID {
		return true
	}
	return id.Username != "" && strings.EqualFold(strings.TrimPrefix(msg.FromUsername, "@"), strings.TrimPrefix(id.Username, "@"))
}

func (d *Dispatcher) limiter(chatID int64) *rate.Limiter {
	d.limMu.Lock()
	defer d.limMu.Unlock()
	l, ok := d.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(d.replyRate, d.replyBurst)
		d.limiters[chatID] = l
	}
	return l
}

// parseCommand splits "!name@bot arg1 arg2" into a lowercase name and args.
func parseCommand(prefix, text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	name := fields[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
