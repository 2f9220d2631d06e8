package supervisor

// State of the supervisor.
//
// Idle -> Resolving -> Launching -> AwaitingHealth -> Ready
// Any step before Ready may end in Failed. Stop returns to Idle from anywhere,
// and an exit observed in Ready returns to Idle.
type State int32

const (
	Idle State = iota
	Resolving
	Launching
	AwaitingHealth
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Launching:
		return "launching"
	case AwaitingHealth:
		return "awaiting_health"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CanStart reports whether Start is accepted in this state.
func (s State) CanStart() bool { return s == Idle || s == Failed }

// starting reports whether a Start is in flight.
func (s State) starting() bool { return s == Resolving || s == Launching || s == AwaitingHealth }
