package script

import "time"

// Operations broadcast to the other scripts when a peer comes or goes.
// Both receive the peer's name as their only argument.
const (
	OpScriptLoaded   = "on_script_loaded"
	OpScriptUnloaded = "on_script_unloaded"
)

// EventKind identifies a lifecycle notification.
type EventKind int

// Lifecycle notifications, in the order a load or unload fires them.
const (
	EventLoading EventKind = iota
	EventLoaded
	EventUnloading
	EventUnloaded
	// EventFailed reports a load that stopped with an error; Err is set.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventLoading:
		return "loading"
	case EventLoaded:
		return "loaded"
	case EventUnloading:
		return "unloading"
	case EventUnloaded:
		return "unloaded"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification for one script.
type Event struct {
	Kind   EventKind
	Name   string
	Path   string
	LoadID string
	Ref    *Reference
	// Bound lists the scripts whose handles were injected; set on EventLoaded.
	Bound []string
	Err   error
	At    time.Time
}

// Listener receives lifecycle notifications. Listeners run with the manager
// lock held and must not call back into the manager.
type Listener func(Event)
