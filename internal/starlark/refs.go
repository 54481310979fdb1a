package starlark

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapscript/internal/script"
	"go.starlark.net/starlark"
)

// refsValue is the "refs" global: one attribute per declared slot, plus get().
// Slots that found no target read as None.
type refsValue struct {
	slots []string
	bound map[string]*script.Reference
}

var (
	_ starlark.HasAttrs = (*refsValue)(nil)
	_ starlark.HasAttrs = (*handleValue)(nil)
)

func newRefsValue(slots []string) *refsValue {
	return &refsValue{slots: slots, bound: make(map[string]*script.Reference, len(slots))}
}

func (r *refsValue) String() string        { return fmt.Sprintf("<refs %v>", r.slots) }
func (r *refsValue) Type() string          { return "refs" }
func (r *refsValue) Freeze()               {}
func (r *refsValue) Truth() starlark.Bool  { return starlark.True }
func (r *refsValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: refs") }

func (r *refsValue) Attr(name string) (starlark.Value, error) {
	if name == "get" {
		return starlark.NewBuiltin("refs.get", r.get), nil
	}
	if ref, ok := r.bound[name]; ok {
		return &handleValue{ref: ref}, nil
	}
	for _, slot := range r.slots {
		if slot == name {
			return starlark.None, nil
		}
	}
	return nil, nil
}

func (r *refsValue) AttrNames() []string {
	names := append([]string{"get"}, r.slots...)
	sort.Strings(names)
	return names
}

// get looks a bound handle up by target script name.
func (r *refsValue) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	key := script.Key(name)
	for _, ref := range r.bound {
		if script.Key(ref.Name()) == key {
			return &handleValue{ref: ref}, nil
		}
	}
	return starlark.None, nil
}

// handleValue wraps a script.Reference for Starlark code.
type handleValue struct {
	ref *script.Reference
}

func (h *handleValue) String() string        { return fmt.Sprintf("<reference %s>", h.ref.Name()) }
func (h *handleValue) Type() string          { return "reference" }
func (h *handleValue) Freeze()               {}
func (h *handleValue) Truth() starlark.Bool  { return starlark.True }
func (h *handleValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: reference") }

func (h *handleValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(h.ref.Name()), nil
	case "loaded":
		return starlark.Bool(!h.ref.Stale()), nil
	case "call":
		return starlark.NewBuiltin("call", h.call), nil
	}
	return nil, nil
}

func (h *handleValue) AttrNames() []string { return []string{"call", "loaded", "name"} }

// call runs an operation on the referenced script and returns its result.
// Starlark-backed targets run on the caller's thread, so the interpreter's
// recursion check and step limit span the whole chain.
func (h *handleValue) call(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
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
	rest := args[1:]

	inst := h.ref.Instance()
	if inst == nil {
		return nil, fmt.Errorf("%s: %w", h.ref.Name(), script.ErrStaleReference)
	}

	if si, ok := inst.(*Instance); ok {
		v, found, err := si.call(thread, op, rest)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s has no operation %q", h.ref.Name(), op)
		}
		return v, nil
	}

	goArgs, err := argsToGo(rest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := h.ref.Invoke(op, goArgs...); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
