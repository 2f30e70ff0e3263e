package runner

// State is the lifecycle position of one execution.
type State string

const (
	StateIdle      State = "idle"
	StateSpawned   State = "spawned"
	StateStreaming State = "streaming"
	StateDrained   State = "drained"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Listener observes execution state transitions. Callbacks run synchronously
// on the goroutine calling Execute and must not block.
type Listener interface {
	OnTransition(o *Outcome, from, to State)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(o *Outcome, from, to State)

// OnTransition calls f.
func (f ListenerFunc) OnTransition(o *Outcome, from, to State) {
	f(o, from, to)
}
