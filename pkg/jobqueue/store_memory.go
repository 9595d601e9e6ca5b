package jobqueue

import (
	"sort"
	"sync"

	"github.com/marmos91/triage/pkg/model"
)

// MemoryStore keeps jobs in process memory; they do not survive a
// restart. Useful for tests and ephemeral workstations.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]model.Job)}
}

func (s *MemoryStore) Create(job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, errNotFound(id)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return errNotFound(job.ID)
	}
	if existing.Terminal() {
		return errTerminal(job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) AppendLog(id string, line model.LogLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errNotFound(id)
	}
	job.Log = append(job.Log, line)
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) List() ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// cloneJob copies the slices and maps so callers cannot mutate stored
// state.
func cloneJob(job model.Job) model.Job {
	clone := job
	clone.Log = append([]model.LogLine(nil), job.Log...)
	if job.Input != nil {
		clone.Input = make(map[string]any, len(job.Input))
		for k, v := range job.Input {
			clone.Input[k] = v
		}
	}
	if job.Output != nil {
		clone.Output = make(map[string]any, len(job.Output))
		for k, v := range job.Output {
			clone.Output[k] = v
		}
	}
	return clone
}
