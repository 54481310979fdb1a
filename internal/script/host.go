package script

// Host is the manager surface available to running script code. Script code
// only runs inside Update or Invoke, so Host methods are always called with the
// manager lock already held and must not take it again.
type Host interface {
	// Broadcast invokes op on every loaded script and returns how many
	// scripts were invoked. Per-script failures are recorded on those scripts.
	Broadcast(op string, args ...any) (int, error)
}

// HostAware is implemented by compilers whose instances call back into the
// manager. The manager hands itself over once, at construction.
type HostAware interface {
	SetHost(Host)
}
