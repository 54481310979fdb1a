package starlark

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapscript/internal/script"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ErrArity is returned when an operation is called with a number of
// arguments its function does not accept.
var ErrArity = errors.New("wrong number of arguments")

// ErrNoHost is returned by broadcast() when the compiler has no host.
var ErrNoHost = errors.New("broadcast is not available")

// referencesGlobal declares reference slots:
//
//	references = ["_store", "audit"]
const referencesGlobal = "references"

// Lifecycle hooks. They are not operations and cannot be invoked by name.
const (
	initFunc    = "init"
	disposeFunc = "dispose"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Options configures a Compiler.
type Options struct {
	Logger *slog.Logger

	// MaxSteps bounds every top-level call (module body, init, operations,
	// dispose). Zero means unlimited.
	MaxSteps uint64
}

// Compiler turns script files into Starlark-backed instances.
type Compiler struct {
	logger   *slog.Logger
	maxSteps uint64

	mu   sync.RWMutex
	host script.Host
}

var (
	_ script.Compiler  = (*Compiler)(nil)
	_ script.HostAware = (*Compiler)(nil)
)

// NewCompiler creates a compiler.
func NewCompiler(opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compiler{logger: logger, maxSteps: opts.MaxSteps}
}

// SetHost wires broadcast() to the runtime.
func (c *Compiler) SetHost(h script.Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = h
}

func (c *Compiler) currentHost() script.Host {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// Compile executes the module body of src and returns the resulting instance.
// init() is not run here; the runtime calls Init after binding references.
func (c *Compiler) Compile(path string, src []byte) (script.Instance, error) {
	name, err := script.NameFromPath(path)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		name:     name,
		path:     path,
		logger:   c.logger.With(slog.String("script", name)),
		maxSteps: c.maxSteps,
		refs:     newRefsValue(nil),
		state:    starlark.NewDict(0),
	}

	predeclared := Predeclared(
		&ThisInfo{Name: name, Path: path},
		inst.refs,
		inst.state,
		starlark.NewBuiltin("broadcast", c.broadcast),
		LogModule(c.logger, name),
	)

	thread := inst.newThread("load:" + name)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, path, src, predeclared)
	if err != nil {
		return nil, &EvalError{Script: name, Err: err}
	}
	inst.globals = globals

	slots, err := parseSlots(globals[referencesGlobal])
	if err != nil {
		return nil, &EvalError{Script: name, Err: err}
	}
	inst.refs.slots = slots

	c.logger.Debug("compiled script",
		slog.String("script", name),
		slog.Int("operations", len(inst.Operations())),
		slog.Int("slots", len(slots)))
	return inst, nil
}

// parseSlots reads the references global: absent, or a list/tuple of strings.
func parseSlots(v starlark.Value) ([]string, error) {
	if v == nil || v == starlark.None {
		return nil, nil
	}
	seq, ok := v.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("%s must be a list or tuple of strings, got %s", referencesGlobal, v.Type())
	}
	if _, isString := v.(starlark.String); isString {
		return nil, fmt.Errorf("%s must be a list or tuple of strings, got string", referencesGlobal)
	}

	slots := make([]string, 0, seq.Len())
	seen := make(map[string]bool, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		s, ok := starlark.AsString(seq.Index(i))
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string, got %s", referencesGlobal, i, seq.Index(i).Type())
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		slots = append(slots, s)
	}
	return slots, nil
}

// broadcast(op, *args) invokes op on every loaded script and returns how many
// were invoked.
func (c *Compiler) broadcast(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing operation name", b.Name())
	}
	op, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: operation name must be a string, got %s", b.Name(), args[0].Type())
	}

	host := c.currentHost()
	if host == nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), ErrNoHost)
	}

	goArgs, err := argsToGo(args[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	n, err := host.Broadcast(op, goArgs...)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", b.Name(), op, err)
	}
	return starlark.MakeInt(n), nil
}

// EvalError reports a failure while executing script code.
type EvalError struct {
	Script string
	Func   string // empty for the module body
	Err    error
}

func (e *EvalError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("%s: %v", e.Script, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Script, e.Func, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Backtrace returns the Starlark stack for interpreter errors, or the plain
// message otherwise.
func (e *EvalError) Backtrace() string {
	var evalErr *starlark.EvalError
	if errors.As(e.Err, &evalErr) {
		return evalErr.Backtrace()
	}
	return e.Err.Error()
}
