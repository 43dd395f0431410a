package node

import "fmt"

// Phase is a step of the node lifecycle. Phases only move forward.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseStoreReady
	PhaseMigrated
	PhaseCredentialsLoaded
	PhaseRPCReady
	PhaseTransportBuilt
	PhaseAPIBound
	PhaseStatusBound
	PhaseWorkerStarted
	PhaseWorkerReady
	PhaseHeartbeatActive
	PhaseStopping
	PhaseStopped
)

var phaseNames = [...]string{
	PhaseInit:              "INIT",
	PhaseStoreReady:        "STORE_READY",
	PhaseMigrated:          "MIGRATED",
	PhaseCredentialsLoaded: "CREDENTIALS_LOADED",
	PhaseRPCReady:          "RPC_READY",
	PhaseTransportBuilt:    "TRANSPORT_BUILT",
	PhaseAPIBound:          "API_BOUND",
	PhaseStatusBound:       "STATUS_BOUND",
	PhaseWorkerStarted:     "WORKER_STARTED",
	PhaseWorkerReady:       "WORKER_READY",
	PhaseHeartbeatActive:   "HEARTBEAT_ACTIVE",
	PhaseStopping:          "STOPPING",
	PhaseStopped:           "STOPPED",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// StartupError is returned by Start when a phase fails fatally.
// Phase is the phase that could not be reached.
type StartupError struct {
	Phase Phase
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Phase, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
