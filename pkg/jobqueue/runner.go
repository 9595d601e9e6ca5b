package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// Detonator is the dynamic-execution dependency; nil disables the
// dynamic stage of file-analysis.
type Detonator interface {
	Available(ctx context.Context) bool
	Execute(ctx context.Context, samplePath string) (model.ExecutionReport, error)
}

// ReportGenerator is the external report-emission collaborator; the
// core only dispatches to it.
type ReportGenerator func(data map[string]any, format, name string) (map[string]any, error)

// ProgressHook receives every progress event, in addition to
// persistence.
type ProgressHook func(model.ProgressEvent)

// Runner drives jobs through their workflow.
type Runner struct {
	store     Store
	detonator Detonator
	generator ReportGenerator
	hook      ProgressHook
}

// Option configures a Runner.
type Option func(*Runner)

// WithDetonator wires the sandbox orchestrator into file-analysis.
func WithDetonator(d Detonator) Option {
	return func(r *Runner) { r.detonator = d }
}

// WithReportGenerator wires the external report collaborator.
func WithReportGenerator(g ReportGenerator) Option {
	return func(r *Runner) { r.generator = g }
}

// WithProgressHook wires the event-bus hook.
func WithProgressHook(h ProgressHook) Option {
	return func(r *Runner) { r.hook = h }
}

// NewRunner builds a runner over the given store.
func NewRunner(store Store, opts ...Option) *Runner {
	r := &Runner{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit creates a pending job and persists it.
func (r *Runner) Submit(workflow model.WorkflowKind, input map[string]any) (model.Job, error) {
	switch workflow {
	case model.WorkflowFileAnalysis, model.WorkflowBatchScan,
		model.WorkflowThreatHunt, model.WorkflowReportGeneration:
	default:
		return model.Job{}, analysiserr.New(analysiserr.InputError, "unknown workflow kind "+string(workflow))
	}

	job := model.Job{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		Input:     input,
		Status:    model.JobPending,
		CreatedAt: time.Now(),
	}
	if err := r.store.Create(job); err != nil {
		return model.Job{}, err
	}
	logger.Info("job submitted", logger.JobID(job.ID), logger.Workflow(string(workflow)))
	return job, nil
}

// Run executes a pending job to completion. The first unrecoverable
// error moves the job to failed with the message preserved; otherwise
// it succeeds with the workflow's output.
func (r *Runner) Run(ctx context.Context, jobID string) (model.Job, error) {
	job, err := r.store.Get(jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.Status != model.JobPending {
		return job, analysiserr.New(analysiserr.InputError, "job is not pending")
	}

	job.Status = model.JobRunning
	job.StartedAt = time.Now()
	if err := r.store.Update(job); err != nil {
		return job, err
	}
	r.log(job.ID, "job started: "+string(job.Workflow))

	var output map[string]any
	var runErr error
	switch job.Workflow {
	case model.WorkflowFileAnalysis:
		output, runErr = r.runFileAnalysis(ctx, &job)
	case model.WorkflowBatchScan:
		output, runErr = r.runBatchScan(&job)
	case model.WorkflowThreatHunt:
		output, runErr = r.runThreatHunt(&job)
	case model.WorkflowReportGeneration:
		output, runErr = r.runReportGeneration(&job)
	}

	job.CompletedAt = time.Now()
	if runErr != nil {
		job.Status = model.JobFailed
		job.Error = runErr.Error()
		r.log(job.ID, "job failed: "+runErr.Error())
		logger.Error("job failed", logger.JobID(job.ID), logger.Err(runErr))
	} else {
		job.Status = model.JobSucceeded
		job.Progress = 1
		job.Output = output
		r.log(job.ID, "job succeeded")
		logger.Info("job succeeded", logger.JobID(job.ID))
	}
	if stored, err := r.store.Get(job.ID); err == nil {
		job.Log = stored.Log
	}
	if err := r.store.Update(job); err != nil {
		return job, err
	}
	return job, runErr
}

// progress persists the new progress value and forwards the event.
func (r *Runner) progress(job *model.Job, p float64, message string) {
	job.Progress = p
	if stored, err := r.store.Get(job.ID); err == nil {
		job.Log = stored.Log
	}
	if err := r.store.Update(*job); err != nil {
		logger.Warn("persist progress", logger.JobID(job.ID), logger.Err(err))
	}
	r.log(job.ID, message)
	if r.hook != nil {
		r.hook(model.ProgressEvent{JobID: job.ID, Progress: p, Message: message})
	}
	logger.Debug("job progress", logger.JobID(job.ID), logger.Progress(p))
}

// log appends one persisted log line.
func (r *Runner) log(jobID, message string) {
	if err := r.store.AppendLog(jobID, logLine(message)); err != nil {
		logger.Warn("append job log", logger.JobID(jobID), logger.Err(err))
	}
}

// inputString pulls a required string field out of the opaque input.
func inputString(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", analysiserr.New(analysiserr.InputError, "job input is missing "+key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", analysiserr.New(analysiserr.InputError, fmt.Sprintf("job input field %s must be a non-empty string", key))
	}
	return s, nil
}

// inputStrings pulls a string-list field ([]string or []any of string).
func inputStrings(input map[string]any, key string) ([]string, error) {
	v, ok := input[key]
	if !ok {
		return nil, analysiserr.New(analysiserr.InputError, "job input is missing "+key)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, analysiserr.New(analysiserr.InputError, key+" must contain only strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, analysiserr.New(analysiserr.InputError, key+" must be a string list")
	}
}
