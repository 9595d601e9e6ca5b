package model

import "time"

// JobStatus is the lifecycle state of one orchestrated job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// WorkflowKind selects which of the four driven pipelines a job runs.
type WorkflowKind string

const (
	WorkflowFileAnalysis     WorkflowKind = "file-analysis"
	WorkflowBatchScan        WorkflowKind = "batch-scan"
	WorkflowThreatHunt       WorkflowKind = "threat-hunt"
	WorkflowReportGeneration WorkflowKind = "report-generation"
)

// LogLine is one append-only job log entry.
type LogLine struct {
	Timestamp time.Time
	Message   string
}

// ProgressEvent carries {job-id, progress, message}, forwarded to the
// event-bus hook on every update.
type ProgressEvent struct {
	JobID    string
	Progress float64
	Message  string
}

// Job is a persisted unit of work driven by the job runner. Once Status
// reaches a terminal value, no field may change except Log (append-only).
type Job struct {
	ID          string
	Workflow    WorkflowKind
	Input       map[string]any
	Status      JobStatus
	Progress    float64
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Output      map[string]any
	Error       string
	Log         []LogLine
}

// Terminal reports whether the job has reached succeeded or failed.
func (j *Job) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
