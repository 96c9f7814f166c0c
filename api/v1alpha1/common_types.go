package v1alpha1

type Phase string

const (
	PhasePending     Phase = "Pending"
	PhaseUnresolved  Phase = "Unresolved"
	PhaseResolved    Phase = "Resolved"
	PhaseStarted     Phase = "Started"
	PhaseUninstalled Phase = "Uninstalled"
	PhaseReady       Phase = "Ready"
	PhaseFailed      Phase = "Failed"
)

const (
	ConditionResolved     = "Resolved"
	ConditionNeedsRefresh = "NeedsRefresh"
	ConditionReady        = "Ready"
)

type UnitIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}
