package vpc

import "fmt"

// State is a step of a topology synchronization
type State int

const (
	StateIdle State = iota
	StateBuildingLocal
	StateBuildingRemote
	StateFlushing
	StateApplied
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:           "Idle",
	StateBuildingLocal:  "BuildingLocal",
	StateBuildingRemote: "BuildingRemote",
	StateFlushing:       "Flushing",
	StateApplied:        "Applied",
	StateFailed:         "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Report summarizes one synchronization request
type Report struct {
	// Bridge is the synchronized bridge
	Bridge string

	// Sequence is the caller's sequence number, echoed for retry correlation
	Sequence string

	// State is the last state reached
	State State

	// Rules is the number of rules loaded
	Rules int

	// Tunnels lists the tunnel ports the request used, sorted
	Tunnels []string
}
