package service

// MaintenanceReason is a set of reasons a maintenance trigger carries.
// Multiple reasons may co-occur on one trigger.
type MaintenanceReason uint32

const (
	// MaintenanceReasonPeriodic: the periodic schedule elapsed.
	MaintenanceReasonPeriodic MaintenanceReason = 1 << iota
	// MaintenanceReasonNodeGroupChanged: node-group topology changed.
	MaintenanceReasonNodeGroupChanged
)

// Has reports whether the set contains the given reason.
func (r MaintenanceReason) Has(reason MaintenanceReason) bool {
	return r&reason != 0
}

// MaintenanceRequest is the body of a maintenance trigger operation.
type MaintenanceRequest struct {
	Reasons MaintenanceReason `json:"reasons"`
}
