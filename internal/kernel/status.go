package kernel

import "fmt"

// Status is the run status of an environment.
type Status int

const (
	Free        Status = iota // FREE: slot unused
	Runnable                  // RUNNABLE: waiting to be scheduled
	Running                   // RUNNING: executing
	NotRunnable               // NOT_RUNNABLE: exists but will not be scheduled
)

var statusNames = [...]string{
	"FREE", "RUNNABLE", "RUNNING", "NOT_RUNNABLE",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", s)
}

// validTransitions defines allowed status transitions. Every live status
// may return to Free when the environment is destroyed.
var validTransitions = map[Status][]Status{
	Free:        {NotRunnable, Runnable, Running},
	NotRunnable: {Runnable, Free},
	Runnable:    {Running, NotRunnable, Free},
	Running:     {Runnable, NotRunnable, Free},
}

// transition moves e to target, or reports why it cannot.
func (e *Env) transition(target Status) error {
	for _, a := range validTransitions[e.status] {
		if a == target {
			e.status = target
			return nil
		}
	}
	return fmt.Errorf("env %s: cannot transition from %s to %s", e.id, e.status, target)
}
