package script

// Compiler turns source text into a live, not yet initialized Instance.
// It is called synchronously with the manager lock held.
type Compiler interface {
	Compile(path string, src []byte) (Instance, error)
}

// Instance is one compiled and instantiated script unit.
type Instance interface {
	// Slots lists the reference slots the unit declares, by their declared
	// (possibly decorated) names.
	Slots() []string

	// BindReference hands the unit a handle for one of its slots.
	BindReference(slot string, ref *Reference) error

	// Init runs the unit's initialization entry point.
	Init() error

	// Invoke calls the named operation. It reports false, nil when the unit
	// does not define the operation.
	Invoke(op string, args []any) (bool, error)

	// Close releases the unit.
	Close() error
}
