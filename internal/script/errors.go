package script

import (
	"errors"
	"fmt"
)

// ErrEmptyName is matched by every DerivationError.
var ErrEmptyName = errors.New("empty script name")

// ErrStaleReference is returned when a reference is used after the script it
// points at was unloaded or reloaded.
var ErrStaleReference = errors.New("stale script reference")

// DerivationError reports a path from which no script name can be derived.
type DerivationError struct {
	Path string
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("cannot derive script name from %q", e.Path)
}

// Is reports ErrEmptyName as the class of every DerivationError.
func (e *DerivationError) Is(target error) bool {
	return target == ErrEmptyName
}

// Stage names the step of a load that failed.
type Stage string

// Load stages.
const (
	StageRead    Stage = "read"
	StageCompile Stage = "compile"
	StageResolve Stage = "resolve"
	StageInit    Stage = "init"
)

// LoadError represents a failure to (re)load a script.
type LoadError struct {
	Name  string
	Path  string
	Stage Stage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("script %s: %s %s: %v", e.Name, e.Stage, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// InvocationError represents a failed call of a named operation on a script.
type InvocationError struct {
	Name string
	Op   string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("script %s: invoke %s: %v", e.Name, e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
