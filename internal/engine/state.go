package engine

// State is the dispatch state of a submission.
//
//	Resolving → Selecting → Invoking → Discarded | Completed | Failed
//
// Resolving can also go straight to Failed when a mapper fails.
type State int

const (
	StateResolving State = iota + 1
	StateSelecting
	StateInvoking
	StateDiscarded
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateSelecting:
		return "selecting"
	case StateInvoking:
		return "invoking"
	case StateDiscarded:
		return "discarded"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a submission.
func (s State) Terminal() bool {
	return s == StateDiscarded || s == StateCompleted || s == StateFailed
}
