// Package router turns raw updates into command, callback and text requests.
//
// Updates from one chat are handled in arrival order: each chat hashes to a
// single worker, so a conversation never sees its own messages reordered.
package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "nova/internal/runtime/supervisor"
	kit "nova/internal/transport"
	logx "nova/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // 0 uses the router default
	Handle      HandlerFunc
}

// CallbackRoute matches callback data "prefix:action[:payload]".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // command name, "cb:<prefix>:<action>" or "text"
	Args    []string
	Payload string // callback payload
	Text    string // raw message text
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the request chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	mw      []Middleware

	mu        sync.RWMutex
	commands  map[string]*Command // name and aliases
	ordered   []Command
	callbacks map[string]CallbackRoute // "prefix:action"
	text      HandlerFunc
	owners    []int64

	runMu  sync.Mutex
	shards []chan func()
}

type Option func(*Router)

// WithMiddleware appends middleware after the built-in chain.
func WithMiddleware(m ...Middleware) Option {
	return func(r *Router) { r.mw = append(r.mw, m...) }
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, opts ...Option) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetCommands replaces the command table. /help is always added.
// The menu is pushed to adapters that support it.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		},
	})

	table := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cc := c
		table[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, exists := table[a]; !exists {
				table[a] = &cc
			}
		}
		ordered = append(ordered, cc)
	}

	r.mu.Lock()
	r.commands = table
	r.ordered = ordered
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) SetCallbacks(routes []CallbackRoute) {
	table := map[string]CallbackRoute{}
	for _, cb := range routes {
		p, a := strings.TrimSpace(cb.Prefix), strings.TrimSpace(cb.Action)
		if p == "" || a == "" || cb.Handle == nil {
			continue
		}
		table[p+":"+a] = cb
	}
	r.mu.Lock()
	r.callbacks = table
	r.mu.Unlock()
}

// SetText installs the handler for non-command messages.
func (r *Router) SetText(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// SetOwners updates the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// isOwner reports whether id may run owner-only routes. An empty list allows everyone.
func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.owners) == 0 {
		return true
	}
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))

	shards := make([]chan func(), r.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan func(), r.cfg.QueueSize)
	}
	r.runMu.Lock()
	r.shards = shards
	r.runMu.Unlock()

	for i, ch := range shards {
		idx, jobs := i, ch
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("dispatcher started", logx.Int("workers", len(shards)), logx.Int("queue", r.cfg.QueueSize))

	defer func() {
		r.runMu.Lock()
		r.shards = nil
		r.runMu.Unlock()
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route resolves one update and queues it on its chat's worker.
// Without a running dispatch loop the request runs inline.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		h := r.text
		r.mu.RUnlock()
		if h == nil || text == "" {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, "text")
		req.Text = text
		r.submit(ctx, req, h, 0)
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	r.mu.RLock()
	cmd, ok := r.commands[word]
	r.mu.RUnlock()
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = parts[1:]
	req.Text = text
	r.submit(ctx, req, cmd.Handle, cmd.Timeout)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	key := parts[0] + ":" + parts[1]

	r.mu.RLock()
	route, ok := r.callbacks[key]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessOwnerOnly && !r.isOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+key)
	if len(parts) == 3 {
		req.Payload = parts[2]
	}
	h := func(c context.Context, req *Request) error {
		err := route.Handle(c, req)
		// Stop the client spinner regardless of the outcome.
		_ = r.adapter.AnswerCallback(c, cb.ID, "")
		return err
	}
	r.submit(ctx, req, h, route.Timeout)
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) submit(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	if timeout <= 0 {
		timeout = r.cfg.HandlerTimeout
	}
	mws := append([]Middleware{
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
	}, r.mw...)
	mws = append(mws, MWTimeout(timeout))
	final := Chain(h, mws...)
	job := func() { _ = final(ctx, req) }

	r.runMu.Lock()
	shards := r.shards
	r.runMu.Unlock()
	if len(shards) == 0 {
		job()
		return
	}

	id := req.Chat.ChatID
	if id < 0 {
		id = -id
	}
	if !tryEnqueue(shards[id%int64(len(shards))], job) {
		if req.Update.Kind == kit.UpdateCallback {
			_ = r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, "busy")
			return
		}
		_, _ = r.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

// tryEnqueue tolerates a channel closed by a stopping dispatcher.
func tryEnqueue(ch chan func(), job func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- job:
		return true
	default:
		return false
	}
}
