package supervisor

import (
	"sort"
	"sync"
	"time"
)

// JobState is the lifecycle state of a supervised worker.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateTimedOut  JobState = "timed_out"
	JobStateFailed    JobState = "failed"
	// JobStateUnknown marks a record whose process is gone without the
	// supervisor having observed its exit.
	JobStateUnknown JobState = "unknown"
)

// JobRecord describes one worker process.
type JobRecord struct {
	JobID     string        `json:"job_id"`
	Variant   string        `json:"variant"`
	State     JobState      `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Deadline  time.Duration `json:"deadline_ns"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Registry tracks live workers. A record is added when the worker starts
// and removed when Run returns, so an idle supervisor has an empty registry.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*JobRecord
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*JobRecord)}
}

func (r *Registry) add(rec *JobRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[rec.JobID] = rec
}

func (r *Registry) finish(jobID string, state JobState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.jobs[jobID]; ok {
		now := time.Now().UTC()
		rec.State = state
		rec.EndedAt = &now
	}
}

func (r *Registry) remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// Active returns the number of registered workers.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Snapshot returns copies of the registered records, oldest first. Running
// records whose process no longer exists are reported as unknown.
func (r *Registry) Snapshot() []JobRecord {
	r.mu.Lock()
	out := make([]JobRecord, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, *rec)
	}
	r.mu.Unlock()

	for i := range out {
		if out[i].State == JobStateRunning && out[i].PID > 0 && !processAlive(out[i].PID) {
			out[i].State = JobStateUnknown
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// pids returns the process ids of running workers.
func (r *Registry) pids() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.jobs))
	for _, rec := range r.jobs {
		if rec.State == JobStateRunning && rec.PID > 0 {
			out = append(out, rec.PID)
		}
	}
	return out
}
