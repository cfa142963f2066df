package coordination

// OperationKind enumerates every mutating Coordination Service call, used
// both as the raft log entry payload kind in replicated mode and as a
// uniform hook point for Service.apply.
type OperationKind int

const (
	OpSetVMMapping OperationKind = iota
	OpSetVMState
	OpSetVMTime
	OpDestroyVMMapping
	OpDestroyAllVMMappings
	OpSetLaunchTime
	OpSetStartTime
	OpInitStartTime
)

// Operation is one mutating Coordination Service call, JSON-encoded into
// the raft log by the replicated backend (see raft.go).
type Operation struct {
	Kind      OperationKind `json:"kind"`
	DB        string        `json:"db"`
	UUID      string        `json:"uuid,omitempty"`
	State     string        `json:"state,omitempty"`
	Time      float64       `json:"time,omitempty"`
	StartTime int64         `json:"start_time,omitempty"`
	Mapping   *VMMapping    `json:"mapping,omitempty"`
}
