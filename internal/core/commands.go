package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"stickerbot/internal/config"
	kit "stickerbot/internal/transport"
	"stickerbot/pkg/logx"
	"stickerbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string // without the leading slash
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	InMenu      bool // listed in the platform command menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles one "scope:action:payload" callback vocabulary entry.
type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string // callback payload

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

// CommandManager routes inbound updates to command and callback handlers
// through a bounded worker pool, so one slow handler never blocks the
// Telegram poll loop.
type CommandManager struct {
	mu        sync.RWMutex
	commands  map[string]*Command // name and aliases -> command
	ordered   []*Command
	callbacks map[string]CallbackRoute // "scope:action" -> route
	admins    []int64

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *config.Manager

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *config.Manager, admins []int64) *CommandManager {
	return &CommandManager{
		commands:  map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		admins:    append([]int64(nil), admins...),
		log:       log,
		adapter:   adapter,
		cfgm:      cfgm,
		jobs:      make(chan func(), 256),
	}
}

// SetAdmins updates the admin allowlist. Safe to call during hot-reload.
func (m *CommandManager) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	m.mu.Lock()
	m.admins = cp
	m.mu.Unlock()
}

func (m *CommandManager) isAdmin(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.admins {
		if a == id {
			return true
		}
	}
	return false
}

func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	commands := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		cc := &c
		ordered = append(ordered, cc)
		commands[strings.ToLower(c.Name)] = cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" {
				commands[a] = cc
			}
		}
	}

	callbacks := map[string]CallbackRoute{}
	for _, r := range cbs {
		if r.Scope == "" || r.Action == "" || r.Handle == nil {
			continue
		}
		callbacks[r.Scope+":"+r.Action] = r
	}

	m.mu.Lock()
	m.commands = commands
	m.ordered = ordered
	m.callbacks = callbacks
	m.mu.Unlock()
}

// snapshotCommands returns the registered commands in registration order.
func (m *CommandManager) snapshotCommands() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Command(nil), m.ordered...)
}

// MenuCommands returns the commands that should appear in the platform menu,
// in registration order.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.ordered))
	for _, c := range m.ordered {
		if !c.InMenu {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() { closeOnce.Do(func() { close(m.jobs) }) }

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return
	}
	// strip an @botname suffix ("/start@stickerbot")
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}

	m.mu.RLock()
	cmd, ok := m.commands[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID}
	if cmd.Access == AccessAdminOnly && !m.isAdmin(msg.FromID) {
		m.log.Debug("command denied", logx.String("command", name), logx.Int64("from_id", msg.FromID))
		_, _ = m.adapter.SendText(root, chat, "This command is restricted.", nil)
		return
	}

	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    fields[1:],
		Adapter: m.adapter,
		Config:  m.cfgm.Get(),
		Logger:  m.log.With(logx.String("command", cmd.Name)),
	}
	m.enqueue(root, cmd.Name, cmd.Timeout, func(ctx context.Context) error {
		return cmd.Handle(ctx, req)
	})
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload := tgui.SplitData(cb.Data)
	if scope == "" || action == "" {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	m.mu.RLock()
	route, found := m.callbacks[scope+":"+action]
	m.mu.RUnlock()
	if !found {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		Command: scope + ":" + action,
		Payload: payload,
		Adapter: m.adapter,
		Config:  m.cfgm.Get(),
		Logger:  m.log.With(logx.String("callback", scope+":"+action)),
	}
	m.enqueue(root, req.Command, route.Timeout, func(ctx context.Context) error {
		return route.Handle(ctx, req, payload)
	})
}

func (m *CommandManager) enqueue(root context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	job := func() {
		ctx, cancel := context.WithTimeout(root, timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.log.Warn("handler failed", logx.String("command", name), logx.Err(err))
		}
	}
	select {
	case m.jobs <- job:
	default:
		m.log.Warn("command queue full, dropping", logx.String("command", name))
	}
}
