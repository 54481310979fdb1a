// Package manager runs the hot-reload loop: it seeds and collects pending
// changes, reconciles them into the script registry after a quiet period, and
// broadcasts operations across every loaded script.
//
// A single mutex guards the pending set, the registry and broadcast
// iteration. The filesystem watcher never takes it; it only enqueues changes
// on a bounded inbox that Tick drains.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/leapscript/internal/config"
	"github.com/leapstack-labs/leapscript/internal/pending"
	"github.com/leapstack-labs/leapscript/internal/registry"
	"github.com/leapstack-labs/leapscript/internal/script"
	"github.com/leapstack-labs/leapscript/internal/watcher"
	"golang.org/x/sync/errgroup"
)

// maxBroadcastDepth bounds broadcasts started from inside broadcast handlers.
const maxBroadcastDepth = 8

// ErrBroadcastDepth is returned when nested broadcasts exceed maxBroadcastDepth.
var ErrBroadcastDepth = errors.New("broadcast nested too deeply")

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("manager closed")

// Options configures a Manager.
type Options struct {
	// Dir is the scripts directory.
	Dir string

	// Extension filters source files (e.g. ".star").
	Extension string

	// Cooldown is the quiet period after the last change before reconciling.
	Cooldown time.Duration

	// TickInterval is the minimum time between two reconciliation passes.
	TickInterval time.Duration

	// TrimChars are stripped from reference slot names. Empty means
	// config.DefaultTrimChars.
	TrimChars string

	// InboxSize bounds the queue between the watcher and the tick loop.
	InboxSize int

	Logger *slog.Logger

	// Now is the clock; tests inject a fake.
	Now func() time.Time
}

type change struct {
	path string
	at   time.Time
}

// TickResult summarizes one reconciliation pass.
type TickResult struct {
	Ran     bool `json:"ran" yaml:"ran"`
	Created int  `json:"created" yaml:"created"`
	Updated int  `json:"updated" yaml:"updated"`
	Removed int  `json:"removed" yaml:"removed"`
	Failed  int  `json:"failed" yaml:"failed"`
}

// BroadcastResult summarizes one broadcast.
type BroadcastResult struct {
	Op      string
	Invoked int
	Failed  map[string]error
}

// Err joins the per-script failures, ordered by script name.
func (r BroadcastResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, r.Failed[name])
	}
	return errors.Join(errs...)
}

// Manager owns the registry of live scripts and keeps it in step with the
// scripts directory.
type Manager struct {
	mu        sync.Mutex
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
	pending   *pending.Set
	registry  *registry.Registry
	env       *script.Env
	listeners []script.Listener
	lastTick  time.Time
	depth     int

	inbox     chan change
	closed    chan struct{}
	closeOnce sync.Once
	watcher   *watcher.Watcher
}

// New creates a manager for opts.Dir and seeds the pending set with every
// matching file already present.
func New(opts Options, compiler script.Compiler) (*Manager, error) {
	if compiler == nil {
		return nil, fmt.Errorf("compiler is required")
	}
	applyDefaults(&opts)

	paths, err := watcher.Scan(opts.Dir, opts.Extension)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
		pending:  pending.New(),
		registry: registry.New(),
		inbox:    make(chan change, opts.InboxSize),
		closed:   make(chan struct{}),
	}
	m.env = &script.Env{
		Compiler:  compiler,
		Resolve:   m.registry.Get,
		TrimChars: opts.TrimChars,
		Emit:      m.emit,
		Peers:     m.peers,
		Logger:    opts.Logger,
		Now:       opts.Now,
	}
	if ha, ok := compiler.(script.HostAware); ok {
		ha.SetHost(scriptHost{m: m})
	}

	now := m.now()
	for _, p := range paths {
		m.pending.Add(p, now)
	}
	m.logger.Debug("seeded pending changes", slog.String("dir", opts.Dir), slog.Int("count", m.pending.Len()))

	return m, nil
}

func applyDefaults(opts *Options) {
	if opts.Extension == "" {
		opts.Extension = config.DefaultExtension
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = config.DefaultCooldown
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = config.DefaultTickInterval
	}
	if opts.TrimChars == "" {
		opts.TrimChars = config.DefaultTrimChars
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = config.DefaultInboxSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// Subscribe registers a lifecycle listener.
func (m *Manager) Subscribe(l script.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Notify enqueues a changed path. It never takes the manager lock, so it is
// safe to call from the watcher while a reconciliation pass is compiling. It
// blocks only while the inbox is full, and returns immediately after Close.
func (m *Manager) Notify(path string) {
	c := change{path: path, at: m.now()}
	select {
	case m.inbox <- c:
	case <-m.closed:
	}
}

// RecordChange adds a path to the pending set directly. It reports false when
// no script name can be derived from the path.
func (m *Manager) RecordChange(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Add(path, m.now())
}

// Pending returns the number of records awaiting reconciliation.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainInboxLocked()
	return m.pending.Len()
}

// Tick runs one reconciliation pass if the tick interval has elapsed since the
// previous pass, the pending set has been quiet for the cooldown, and the set
// is not empty. Otherwise it does nothing.
func (m *Manager) Tick() TickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drainInboxLocked()

	now := m.now()
	if !m.lastTick.IsZero() && now.Sub(m.lastTick) < m.opts.TickInterval {
		return TickResult{}
	}
	m.lastTick = now

	if !m.pending.Ready(now, m.opts.Cooldown) {
		return TickResult{}
	}
	return m.reconcileLocked(m.pending.Drain())
}

// Flush reconciles everything pending now, ignoring the cooldown and the tick
// interval.
func (m *Manager) Flush() TickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drainInboxLocked()
	m.lastTick = m.now()
	return m.reconcileLocked(m.pending.Drain())
}

func (m *Manager) drainInboxLocked() {
	for {
		select {
		case c := <-m.inbox:
			m.pending.Add(c.path, c.at)
		default:
			return
		}
	}
}

// reconcileLocked applies records in arbitrary order. Scripts that reference
// each other are not ordered: a script reloaded before its target may bind to
// the target's previous, now stale, instance.
func (m *Manager) reconcileLocked(records []pending.Record) TickResult {
	res := TickResult{Ran: true}
	for _, rec := range records {
		m.apply(rec, &res)
	}
	if len(records) > 0 {
		m.logger.Info("reconciled scripts",
			slog.Int("created", res.Created),
			slog.Int("updated", res.Updated),
			slog.Int("removed", res.Removed),
			slog.Int("failed", res.Failed))
	}
	return res
}

func (m *Manager) apply(rec pending.Record, res *TickResult) {
	existing, known := m.registry.Get(rec.Name)

	if !fileExists(rec.Path) {
		if known {
			existing.Unload()
			m.registry.Remove(rec.Name)
			res.Removed++
			m.logger.Info("script removed", slog.String("script", existing.Name()))
		}
		return
	}

	s := existing
	if known {
		res.Updated++
	} else {
		s = script.New(rec.Name, rec.Path, m.env)
		m.registry.Add(s)
		res.Created++
	}

	if err := s.Update(rec.Path); err != nil {
		s.ReportError("reconcile", err)
		res.Failed++
		m.logger.Error("script update failed",
			slog.String("script", s.Name()),
			slog.String("path", rec.Path),
			slog.String("error", err.Error()))
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Broadcast invokes op with args on every registered script. A failing script
// does not stop the others; failures are recorded on the scripts and reported
// in the result.
func (m *Manager) Broadcast(op string, args ...any) BroadcastResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.broadcastLocked(nil, op, args)
	if err != nil {
		m.logger.Error("broadcast refused", slog.String("op", op), slog.String("error", err.Error()))
	}
	return res
}

func (m *Manager) broadcastLocked(except *script.Script, op string, args []any) (BroadcastResult, error) {
	res := BroadcastResult{Op: op}
	if m.depth >= maxBroadcastDepth {
		return res, ErrBroadcastDepth
	}
	m.depth++
	defer func() { m.depth-- }()

	m.registry.Each(func(s *script.Script) {
		if s == except || s.State() != script.StateLoaded {
			return
		}
		res.Invoked++
		if err := s.Invoke(op, args...); err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]error)
			}
			res.Failed[s.Name()] = err
			m.logger.Warn("broadcast handler failed",
				slog.String("script", s.Name()),
				slog.String("op", op),
				slog.String("error", err.Error()))
		}
	})
	return res, nil
}

// peers notifies every other script that from was loaded or unloaded.
func (m *Manager) peers(from *script.Script, op string, args ...any) {
	if _, err := m.broadcastLocked(from, op, args); err != nil {
		m.logger.Warn("peer notification dropped", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func (m *Manager) emit(e script.Event) {
	for _, l := range m.listeners {
		m.callListener(l, e)
	}
}

func (m *Manager) callListener(l script.Listener, e script.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panicked",
				slog.String("script", e.Name),
				slog.String("event", e.Kind.String()),
				slog.Any("panic", r))
		}
	}()
	l(e)
}

// Scripts returns a status snapshot of every registered script, sorted by name.
func (m *Manager) Scripts() []script.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]script.Status, 0, m.registry.Len())
	for _, name := range m.registry.Names() {
		s, _ := m.registry.Get(name)
		out = append(out, s.Status())
	}
	return out
}

// Lookup returns the status of one script (case-insensitive).
func (m *Manager) Lookup(name string) (script.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.registry.Get(name)
	if !ok {
		return script.Status{}, false
	}
	return s.Status(), true
}

// Invoke calls op on a single script.
func (m *Manager) Invoke(name, op string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.registry.Get(name)
	if !ok {
		return fmt.Errorf("script not found: %s", name)
	}
	return s.Invoke(op, args...)
}

// Run watches the scripts directory and ticks until ctx is cancelled. An
// in-flight reconciliation pass always completes.
func (m *Manager) Run(ctx context.Context) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	w, err := watcher.New(watcher.Options{
		Dir:       m.opts.Dir,
		Extension: m.opts.Extension,
		Logger:    m.logger,
	}, m.Notify)
	if err != nil {
		return err
	}
	if !m.setWatcher(w) {
		_ = w.Close()
		return ErrClosed
	}
	defer func() { _ = w.Close() }()

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return w.Run(egctx)
	})
	eg.Go(func() error {
		ticker := time.NewTicker(m.pollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-egctx.Done():
				return nil
			case <-m.closed:
				return nil
			case <-ticker.C:
				m.Tick()
			}
		}
	})
	return eg.Wait()
}

// setWatcher installs w unless Close has already run. Close takes m.mu before
// it looks at m.watcher, so a watcher installed here is always closed.
func (m *Manager) setWatcher(w *watcher.Watcher) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return false
	default:
	}
	m.watcher = w
	return true
}

// pollInterval is how often Run calls Tick; Tick itself enforces the tick
// interval and the cooldown.
func (m *Manager) pollInterval() time.Duration {
	d := min(m.opts.TickInterval, m.opts.Cooldown) / 2
	return max(d, 10*time.Millisecond)
}

// Close stops the watcher and unloads every script. It waits for an in-flight
// reconciliation pass to finish.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.watcher != nil {
			err = m.watcher.Close()
		}
		for _, name := range m.registry.Names() {
			if s, ok := m.registry.Get(name); ok {
				s.Unload()
				m.registry.Remove(name)
			}
		}
	})
	return err
}

// scriptHost is handed to compilers so running scripts can broadcast. Its
// calls arrive from script code, which already runs under m.mu.
type scriptHost struct {
	m *Manager
}

// Broadcast unwinds a runaway chain: a depth failure in any nested handler is
// returned to the calling script as well.
func (h scriptHost) Broadcast(op string, args ...any) (int, error) {
	res, err := h.m.broadcastLocked(nil, op, args)
	if err == nil {
		if ferr := res.Err(); errors.Is(ferr, ErrBroadcastDepth) {
			err = ferr
		}
	}
	return res.Invoked, err
}
