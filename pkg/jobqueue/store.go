// Package jobqueue persists analysis jobs and drives the four workflow
// kinds over the static and dynamic pipelines, with progress events
// forwarded to an event-bus hook.
package jobqueue

import (
	"time"

	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// Store persists jobs. Every mutation writes back; log lines persist
// individually. Implementations must enforce the terminal-state
// invariant: once a job is succeeded or failed, only log appends are
// accepted.
type Store interface {
	// Create persists a new job.
	Create(job model.Job) error

	// Get returns the job by id.
	Get(id string) (model.Job, error)

	// Update writes the full job back. Updating a job already in a
	// terminal state fails.
	Update(job model.Job) error

	// AppendLog persists one log line; allowed in any state.
	AppendLog(id string, line model.LogLine) error

	// List returns all jobs, newest creation first.
	List() ([]model.Job, error)

	Close() error
}

// errTerminal is returned by stores when a terminal job is mutated.
func errTerminal(id string) error {
	return analysiserr.New(analysiserr.InputError, "job "+id+" is terminal; only log appends are allowed")
}

func errNotFound(id string) error {
	return analysiserr.New(analysiserr.InputError, "job "+id+" not found")
}

// logLine builds a timestamped log line.
func logLine(message string) model.LogLine {
	return model.LogLine{Timestamp: time.Now(), Message: message}
}
