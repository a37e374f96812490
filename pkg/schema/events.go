package schema

// Event type constants for the run event log and the caller-facing stream.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunSuspended = "run_suspended"
	EventRunResumed   = "run_resumed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventNodeRetrying  = "node_retrying"

	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageIndex     = "current_stage_index"

	EventProgress      = "progress"
	EventArtifactSaved = "artifact_saved"
	EventFinalReport   = "final_report"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusRunning         RunStatus = "running"
	RunStatusWaitingForInput RunStatus = "waiting_for_input"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusCancelled       RunStatus = "cancelled"
	RunStatusError           RunStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled || s == RunStatusError
}

// InterruptPayload is what a suspended run surfaces to the caller.
type InterruptPayload struct {
	NodeID        string `json:"node_id"`
	MessageToUser string `json:"message_to_user"`
}

// Accepted resume shapes. Anything else is injected as free text; there is
// no invalid-input rejection path at this layer.
const (
	ResumePass   = "pass"
	ResumeIgnore = "ignore"
	ResumeQuit   = "quit"
	ResumeQuitQ  = "q"
)
