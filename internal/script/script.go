// Package script implements the lifecycle of one hot-reloadable script unit:
// loading through an external Compiler, reference injection, invocation and
// disposal.
//
// A Script is not safe for concurrent use. Every method runs under the lock of
// the manager that owns the registry the script lives in.
package script

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Env connects a Script to its owner.
type Env struct {
	Compiler Compiler

	// Resolve looks up a registered script by name (case-insensitive).
	Resolve func(name string) (*Script, bool)

	// TrimChars are stripped from both ends of a slot name to get the target.
	TrimChars string

	// Emit delivers lifecycle events.
	Emit func(Event)

	// Peers broadcasts an operation to every script except from.
	Peers func(from *Script, op string, args ...any)

	Logger *slog.Logger
	Now    func() time.Time
}

// Script is the lifecycle wrapper around one compiled unit.
type Script struct {
	name       string
	path       string
	state      State
	instance   Instance
	lastError  error
	generation uint64
	loadID     string
	loadedAt   time.Time
	bound      []string
	env        *Env
}

// Status is a point-in-time view of a Script.
type Status struct {
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	State      State     `json:"state" yaml:"state"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Generation uint64    `json:"generation" yaml:"generation"`
	LoadID     string    `json:"load_id,omitempty" yaml:"load_id,omitempty"`
	LoadedAt   time.Time `json:"loaded_at,omitzero" yaml:"loaded_at,omitempty"`
	Bound      []string  `json:"bound,omitempty" yaml:"bound,omitempty"`
}

// New creates an unloaded script. The name is fixed for the script's lifetime.
func New(name, path string, env *Env) *Script {
	if env.Logger == nil {
		env.Logger = slog.New(slog.DiscardHandler)
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	return &Script{
		name:  name,
		path:  path,
		state: StateUnloaded,
		env:   env,
	}
}

// Name returns the script name.
func (s *Script) Name() string { return s.name }

// Path returns the source path of the most recent load.
func (s *Script) Path() string { return s.path }

// State returns the lifecycle state.
func (s *Script) State() State { return s.state }

// LastError returns the most recent failure, if any.
func (s *Script) LastError() error { return s.lastError }

// Handle returns a reference bound to the current instance.
func (s *Script) Handle() *Reference {
	return &Reference{script: s, generation: s.generation}
}

// Status returns a snapshot of the script.
func (s *Script) Status() Status {
	st := Status{
		Name:       s.name,
		Path:       s.path,
		State:      s.state,
		Generation: s.generation,
		LoadID:     s.loadID,
		LoadedAt:   s.loadedAt,
		Bound:      append([]string(nil), s.bound...),
	}
	if s.lastError != nil {
		st.Error = s.lastError.Error()
	}
	return st
}

// Update (re)loads the script from path. A live instance is unloaded first, so
// an update is the full unload sequence followed by the full load sequence
// under the same name. Failures leave the script in StateError and are
// returned as *LoadError.
func (s *Script) Update(path string) (err error) {
	if s.instance != nil {
		s.Unload()
	}

	s.path = path
	s.loadID = uuid.NewString()
	s.bound = nil
	s.state = StateLoading

	stage := StageRead
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	src, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the watched scripts directory
	if err != nil {
		return s.fail(stage, err)
	}

	stage = StageCompile
	inst, err := s.env.Compiler.Compile(path, src)
	if err != nil {
		return s.fail(stage, err)
	}
	if inst == nil {
		return s.fail(stage, fmt.Errorf("compiler returned no instance"))
	}
	s.instance = inst
	s.generation++

	s.emit(EventLoading, nil)

	stage = StageResolve
	bound, err := s.resolveReferences()
	if err != nil {
		return s.fail(stage, err)
	}
	s.bound = bound

	stage = StageInit
	if err := inst.Init(); err != nil {
		return s.fail(stage, err)
	}

	s.state = StateLoaded
	s.lastError = nil
	s.loadedAt = s.env.Now()
	s.env.Logger.Debug("script loaded",
		slog.String("script", s.name),
		slog.String("load_id", s.loadID),
		slog.Any("bound", bound))

	s.emit(EventLoaded, bound)
	s.peers(OpScriptLoaded)
	return nil
}

// Unload disposes the current instance. From StateUnloaded it does nothing.
func (s *Script) Unload() {
	if s.state == StateUnloaded {
		return
	}
	s.emit(EventUnloading, nil)
	s.discard()
	s.state = StateUnloaded
	s.emit(EventUnloaded, nil)
	s.peers(OpScriptUnloaded)
}

// Invoke calls a named operation on the live instance. Scripts without a live
// instance, or without the operation, are skipped silently. Failures are
// recorded as the script's last error and returned as *InvocationError; the
// instance stays loaded.
func (s *Script) Invoke(op string, args ...any) (err error) {
	inst := s.instance
	if inst == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = s.invocationFailed(op, fmt.Errorf("panic: %v", r))
		}
	}()
	if _, ierr := inst.Invoke(op, args); ierr != nil {
		return s.invocationFailed(op, ierr)
	}
	return nil
}

// ReportError records a failure reported by the owner and moves the script to
// StateError, releasing any instance.
func (s *Script) ReportError(context string, cause error) {
	s.discard()
	s.state = StateError
	if context != "" {
		cause = fmt.Errorf("%s: %w", context, cause)
	}
	s.lastError = cause
}

func (s *Script) resolveReferences() ([]string, error) {
	var bound []string
	for _, slot := range s.instance.Slots() {
		target := SlotTarget(slot, s.env.TrimChars)
		if target == "" || s.env.Resolve == nil {
			continue
		}
		peer, ok := s.env.Resolve(target)
		if !ok {
			continue
		}
		if err := s.instance.BindReference(slot, peer.Handle()); err != nil {
			return bound, fmt.Errorf("bind slot %q to %s: %w", slot, peer.name, err)
		}
		bound = append(bound, peer.name)
	}
	return bound, nil
}

func (s *Script) fail(stage Stage, cause error) error {
	s.discard()
	s.state = StateError
	lerr := &LoadError{Name: s.name, Path: s.path, Stage: stage, Err: cause}
	s.lastError = lerr
	s.env.Logger.Warn("script load failed",
		slog.String("script", s.name),
		slog.String("stage", string(stage)),
		slog.String("error", cause.Error()))
	s.emitEvent(Event{Kind: EventFailed, Err: lerr})
	return lerr
}

func (s *Script) invocationFailed(op string, cause error) error {
	ierr := &InvocationError{Name: s.name, Op: op, Err: cause}
	s.lastError = ierr
	return ierr
}

// discard closes and drops the current instance.
func (s *Script) discard() {
	inst := s.instance
	if inst == nil {
		return
	}
	s.instance = nil
	if err := inst.Close(); err != nil {
		s.env.Logger.Warn("script close failed",
			slog.String("script", s.name),
			slog.String("error", err.Error()))
	}
}

func (s *Script) emit(kind EventKind, bound []string) {
	s.emitEvent(Event{Kind: kind, Bound: bound})
}

func (s *Script) emitEvent(e Event) {
	if s.env.Emit == nil {
		return
	}
	e.Name = s.name
	e.Path = s.path
	e.LoadID = s.loadID
	e.Ref = s.Handle()
	e.At = s.env.Now()
	s.env.Emit(e)
}

func (s *Script) peers(op string) {
	if s.env.Peers == nil {
		return
	}
	s.env.Peers(s, op, s.name)
}
