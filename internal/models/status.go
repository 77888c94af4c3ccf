package models

// Status is the lifecycle state of a pickup order.
//
//	pending ─> assigned ─> in_progress ─> collecting ─> completed
//	   │          │             │              │
//	   └──────────┴─────────────┴──────────────┴──> cancelled
//
// completed and cancelled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCollecting Status = "collecting"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// happyPath holds the position of each status on the forward path.
var happyPath = map[Status]int{
	StatusPending:    0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusCollecting: 3,
	StatusCompleted:  4,
}

func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := happyPath[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RequiresAgent reports whether an order in this status must carry an agent.
func (s Status) RequiresAgent() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCollecting, StatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether next is reachable from s. Forward skips
// along the happy path are allowed; cancelled is reachable from any
// non-terminal status. Re-setting the same status is not a transition.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() || !next.Valid() || s == next {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return happyPath[next] > happyPath[s]
}

func (s Status) String() string { return string(s) }
