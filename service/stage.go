package service

import "fmt"

// ProcessingStage is the coarse lifecycle of a service instance. The
// sequence is monotonic: no stage is ever revisited. Transitions are
// driven by the single authoritative owner of the instance (the host),
// so there is no internal transition lock, only visibility safety.
type ProcessingStage int32

const (
	// StageCreated is the initial stage after construction.
	StageCreated ProcessingStage = iota
	// StageInitializing covers host attachment before the start
	// handler runs.
	StageInitializing
	// StageExecutingStartHandler means the start handler is in flight.
	StageExecutingStartHandler
	// StageAvailable means the service is reachable; parked operations
	// are released on entry.
	StageAvailable
	// StageStopped is terminal; operations parked waiting for start
	// are failed on entry.
	StageStopped
)

func (s ProcessingStage) String() string {
	switch s {
	case StageCreated:
		return "CREATED"
	case StageInitializing:
		return "INITIALIZING"
	case StageExecutingStartHandler:
		return "EXECUTING_START_HANDLER"
	case StageAvailable:
		return "AVAILABLE"
	case StageStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("ProcessingStage(%d)", int32(s))
}

// DispatchPhase is the two-phase request-processing state: an inbound
// operation runs the filter chain first, then the verb handler. The
// filter chain re-enters dispatch at the handler phase.
type DispatchPhase int

const (
	PhaseProcessingFilters DispatchPhase = iota
	PhaseExecutingHandler
)

func (p DispatchPhase) String() string {
	switch p {
	case PhaseProcessingFilters:
		return "PROCESSING_FILTERS"
	case PhaseExecutingHandler:
		return "EXECUTING_SERVICE_HANDLER"
	}
	return fmt.Sprintf("DispatchPhase(%d)", int(p))
}
