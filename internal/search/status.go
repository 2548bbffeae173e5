package search

// Status is the orchestration state of a search. Transitions are strictly
// ordered per search:
//
//	idle -> pending -> running -> {stopping -> stopped, crashed, completed, failed}
//
// Terminal states have no outbound transition except an explicit new start,
// which moves the search back to pending.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCrashed   Status = "crashed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s has no automatic outbound transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusCrashed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Live reports whether the search currently holds (or is about to hold) an
// admission slot. A live search refuses a second start.
func (s Status) Live() bool {
	switch s {
	case StatusPending, StatusRunning, StatusStopping:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }
