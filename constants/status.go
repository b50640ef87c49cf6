package constants

// RunState is the canonical state of a batch run (stored verbatim in the ledger).
type RunState string

const (
	RunStateIdle      RunState = "IDLE"
	RunStateRunning   RunState = "RUNNING"
	RunStatePaused    RunState = "PAUSED"
	RunStateCompleted RunState = "COMPLETED" // every document processed or skipped
	RunStateAborted   RunState = "ABORTED"   // stopped by the caller
	RunStateFailed    RunState = "FAILED"    // terminal failure
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateAborted || s == RunStateFailed
}

// DocumentStatus is the outcome of one document within a run.
type DocumentStatus string

const (
	DocumentSucceeded DocumentStatus = "SUCCEEDED"
	DocumentFailed    DocumentStatus = "FAILED"
	DocumentSkipped   DocumentStatus = "SKIPPED" // output path already claimed in this run
	DocumentStopped   DocumentStatus = "STOPPED" // discarded after Stop()
)

// FailurePolicy decides what a document error does to the rest of the batch.
type FailurePolicy string

const (
	FailureContinue FailurePolicy = "continue"
	FailureAbort    FailurePolicy = "abort"
)
