package script

// Reference is a non-owning handle to a script, bound to the instance that
// was current when the handle was taken. It goes stale once that instance is
// unloaded or replaced; holders re-resolve by reloading rather than caching.
type Reference struct {
	script     *Script
	generation uint64
}

// Name returns the referenced script's name.
func (r *Reference) Name() string {
	return r.script.name
}

// State returns the referenced script's current state.
func (r *Reference) State() State {
	return r.script.state
}

// Stale reports whether the instance this handle was bound to is gone.
func (r *Reference) Stale() bool {
	s := r.script
	if s.generation != r.generation || s.instance == nil {
		return true
	}
	return s.state != StateLoaded && s.state != StateLoading
}

// Instance returns the bound instance, or nil when the handle is stale.
func (r *Reference) Instance() Instance {
	if r.Stale() {
		return nil
	}
	return r.script.instance
}

// Invoke calls an operation on the bound instance.
func (r *Reference) Invoke(op string, args ...any) error {
	if r.Stale() {
		return ErrStaleReference
	}
	return r.script.Invoke(op, args...)
}
