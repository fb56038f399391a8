package automation

type State int

const (
	StateQueued State = iota
	StateStarting
	StateAuthenticating
	StateActive
	StateSleeping
	StateExhausted
	StateFailed
	StateStopped
)

var stateNames = [...]string{
	StateQueued:         "queued",
	StateStarting:       "starting",
	StateAuthenticating: "authenticating",
	StateActive:         "active",
	StateSleeping:       "sleeping",
	StateExhausted:      "exhausted",
	StateFailed:         "failed",
	StateStopped:        "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether a worker in this state has finished.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateFailed || s == StateStopped
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
