package poller

// State is the poller's position in its lifecycle.
//
//	Idle ──Initialize──▶ Initializing ──(enabled, watermark > 0)──▶ Armed
//	Armed ──tick──▶ Polling ──▶ Armed
//	any ──(disabled | identity gone | Close)──▶ Idle
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateArmed
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateArmed:
		return "armed"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
