package starlark

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapscript/internal/script"
	"go.starlark.net/starlark"
)

// Instance is a compiled script: its frozen module globals plus the mutable
// refs and state it was given.
type Instance struct {
	name     string
	path     string
	logger   *slog.Logger
	maxSteps uint64

	globals starlark.StringDict
	refs    *refsValue
	state   *starlark.Dict
}

var _ script.Instance = (*Instance)(nil)

// Slots returns the declared reference slots.
func (i *Instance) Slots() []string {
	return append([]string(nil), i.refs.slots...)
}

// BindReference attaches ref to a declared slot.
func (i *Instance) BindReference(slot string, ref *script.Reference) error {
	for _, s := range i.refs.slots {
		if s == slot {
			i.refs.bound[slot] = ref
			return nil
		}
	}
	return fmt.Errorf("%s: undeclared reference slot %q", i.name, slot)
}

// Init runs init() if the script defines it.
func (i *Instance) Init() error {
	return i.hook(initFunc)
}

// Close runs dispose() if the script defines it.
func (i *Instance) Close() error {
	return i.hook(disposeFunc)
}

func (i *Instance) hook(name string) error {
	fn, ok := i.globals[name].(starlark.Callable)
	if !ok {
		return nil
	}
	thread := i.newThread(name)
	if _, err := starlark.Call(thread, fn, nil, nil); err != nil {
		return &EvalError{Script: i.name, Func: name, Err: err}
	}
	return nil
}

// Invoke calls the operation op. It reports false, without error, when the
// script does not define it.
func (i *Instance) Invoke(op string, args []any) (bool, error) {
	tuple, err := argsToStarlark(args)
	if err != nil {
		return false, fmt.Errorf("%s.%s: %w", i.name, op, err)
	}
	_, found, err := i.call(i.newThread(op), op, tuple)
	return found, err
}

// callGo is Invoke with the result converted back to Go.
func (i *Instance) callGo(op string, args ...any) (any, error) {
	tuple, err := argsToStarlark(args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", i.name, op, err)
	}
	v, found, err := i.call(i.newThread(op), op, tuple)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s has no operation %q", i.name, op)
	}
	return ToGo(v)
}

func (i *Instance) call(thread *starlark.Thread, op string, args starlark.Tuple) (starlark.Value, bool, error) {
	fn, ok := i.operation(op)
	if !ok {
		return nil, false, nil
	}
	if err := checkArity(fn, len(args)); err != nil {
		return nil, true, &EvalError{Script: i.name, Func: op, Err: err}
	}
	v, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, true, &EvalError{Script: i.name, Func: op, Err: err}
	}
	return v, true, nil
}

// Operations lists the invocable top-level functions.
func (i *Instance) Operations() []string {
	var ops []string
	for name := range i.globals {
		if _, ok := i.operation(name); ok {
			ops = append(ops, name)
		}
	}
	sort.Strings(ops)
	return ops
}

func (i *Instance) operation(op string) (starlark.Callable, bool) {
	if op == "" || strings.HasPrefix(op, "_") || op == initFunc || op == disposeFunc {
		return nil, false
	}
	fn, ok := i.globals[op].(starlark.Callable)
	return fn, ok
}

// checkArity rejects positional argument counts fn cannot bind. Builtins are
// left to check their own arguments.
func checkArity(fn starlark.Callable, n int) error {
	f, ok := fn.(*starlark.Function)
	if !ok {
		return nil
	}

	positional := f.NumParams() - f.NumKwonlyParams()
	if f.HasVarargs() {
		positional--
	}
	if f.HasKwargs() {
		positional--
	}

	required := 0
	for p := 0; p < positional; p++ {
		if f.ParamDefault(p) == nil {
			required++
		}
	}

	if n < required || (!f.HasVarargs() && n > positional) {
		return fmt.Errorf("%w: %s accepts %s, got %d", ErrArity, f.Name(), describeArity(required, positional, f.HasVarargs()), n)
	}
	return nil
}

func describeArity(required, positional int, varargs bool) string {
	switch {
	case varargs:
		return fmt.Sprintf("at least %d", required)
	case required == positional:
		return fmt.Sprintf("%d", required)
	default:
		return fmt.Sprintf("%d to %d", required, positional)
	}
}

func (i *Instance) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  i.name + ":" + name,
		Print: printFunc(i.logger),
	}
	if i.maxSteps > 0 {
		thread.SetMaxExecutionSteps(i.maxSteps)
	}
	return thread
}
