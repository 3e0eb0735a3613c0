package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

// Persister persists job states for restart recovery.
type Persister interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
}

// Store holds all jobs in memory and owns their update discipline: the map
// lock only guards membership, each entry carries its own mutex, and every
// read hands out a deep clone. Task mutations funnel through UpdateTask so
// the derived job status can never drift from its records.
type Store struct {
	maxActive    int
	persister    Persister
	terminalHook func(*Job)

	mu      sync.RWMutex
	entries map[string]*entry
	active  atomic.Int64
}

type entry struct {
	mu  sync.Mutex
	job *Job
}

func NewStore(maxActive int, persister Persister) *Store {
	s := &Store{
		maxActive: maxActive,
		persister: persister,
		entries:   make(map[string]*entry),
	}
	s.hydrateFromPersister(context.Background())
	return s
}

// SetTerminalHook registers a callback invoked exactly once per job, on the
// update that moves it into a terminal status. The callback runs outside the
// job's lock and receives its own snapshot, so it may read the store freely
// but should spawn a goroutine for anything slow.
func (s *Store) SetTerminalHook(hook func(*Job)) {
	s.terminalHook = hook
}

// Create registers a new job. It rejects duplicate file ids and, when the
// number of not-yet-terminal jobs has reached the configured cap, refuses
// admission entirely so the caller can surface back-pressure before any
// state exists.
func (s *Store) Create(job *Job) (*Job, error) {
	s.mu.Lock()
	if _, exists := s.entries[job.FileID]; exists {
		s.mu.Unlock()
		// ids are minted server-side, so a collision is an internal fault,
		// not bad input
		return nil, apperr.Newf(apperr.KindUnknown, "job %s already exists", job.FileID)
	}
	if s.maxActive > 0 && s.active.Load() >= int64(s.maxActive) {
		s.mu.Unlock()
		return nil, apperr.Newf(apperr.KindBusy,
			"too many jobs in flight (limit %d), retry later", s.maxActive)
	}
	stored := cloneJob(job)
	s.entries[job.FileID] = &entry{job: stored}
	if !stored.Status.Terminal() {
		s.active.Add(1)
	}
	snapshot := cloneJob(stored)
	s.mu.Unlock()

	s.persist(snapshot)
	return snapshot, nil
}

// Get returns a snapshot of the job, or a not_found error.
func (s *Store) Get(fileID string) (*Job, error) {
	e, ok := s.entry(fileID)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "file %s not found", fileID)
	}
	e.mu.Lock()
	snapshot := cloneJob(e.job)
	e.mu.Unlock()
	return snapshot, nil
}

// List returns snapshots of every job.
func (s *Store) List() []*Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	ret := make([]*Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		ret = append(ret, cloneJob(e.job))
		e.mu.Unlock()
	}
	return ret
}

// Active returns the number of jobs that have not reached a terminal status.
func (s *Store) Active() int {
	return int(s.active.Load())
}

// UpdateTask applies mutate to one task record under the job's lock, then
// recomputes the derived job status and persists the result. An error from
// mutate aborts the update with no state change. The returned snapshot is
// the post-update job.
//
// Persisting happens while the job lock is held: updates to the same job
// reach the persister in the order they were applied.
func (s *Store) UpdateTask(fileID string, taskType task.Type, mutate func(*TaskRecord) error) (*Job, error) {
	e, ok := s.entry(fileID)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "file %s not found", fileID)
	}

	e.mu.Lock()

	rec, ok := e.job.Tasks[taskType]
	if !ok {
		e.mu.Unlock()
		return nil, apperr.Newf(apperr.KindNotFound, "file %s has no %s task", fileID, taskType)
	}
	if err := mutate(rec); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	rec.UpdatedAt = now
	e.job.UpdatedAt = now

	wasTerminal := e.job.Status.Terminal()
	s.recomputeLocked(e.job)
	becameTerminal := !wasTerminal && e.job.Status.Terminal()
	if becameTerminal {
		s.active.Add(-1)
	}

	snapshot := cloneJob(e.job)
	s.persist(snapshot)
	e.mu.Unlock()

	if becameTerminal && s.terminalHook != nil {
		s.terminalHook(cloneJob(snapshot))
	}
	return snapshot, nil
}

// recomputeLocked derives job status and current task from the records.
// Status only ever moves forward: a terminal status is final, and a job that
// reached processing never reports uploaded again.
func (s *Store) recomputeLocked(job *Job) {
	if job.Status.Terminal() {
		return
	}

	completed := 0
	var failure *TaskRecord
	var current *TaskRecord
	for _, rec := range job.Tasks {
		switch rec.Status {
		case task.StatusCompleted:
			completed++
		case task.StatusFailed:
			if failure == nil || rec.UpdatedAt.Before(failure.UpdatedAt) {
				failure = rec
			}
		case task.StatusRunning:
			if current == nil || rec.UpdatedAt.After(current.UpdatedAt) {
				current = rec
			}
		}
	}

	switch {
	case failure != nil:
		job.Status = StatusError
		job.ErrorMessage = failure.LastError
		job.CurrentTask = ""
	case completed == len(job.Tasks):
		job.Status = StatusCompleted
		job.CurrentTask = ""
	case current != nil:
		job.Status = StatusProcessing
		job.CurrentTask = current.Type
	default:
		if completed > 0 {
			job.Status = StatusProcessing
		}
		job.CurrentTask = ""
	}
}

func (s *Store) entry(fileID string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[fileID]
	s.mu.RUnlock()
	return e, ok
}

func (s *Store) persist(job *Job) {
	if s.persister == nil || job == nil {
		return
	}
	if err := s.persister.UpsertJob(context.Background(), job); err != nil {
		log.Error().Err(err).Str("file_id", job.FileID).Msg("failed to persist job")
	}
}

// hydrateFromPersister restores jobs on startup. Records caught mid-run by a
// crash go back to pending (keeping their attempt counts) so the
// orchestrator can re-dispatch them; the job-level status is kept as
// persisted so observers never see it move backwards across a restart.
func (s *Store) hydrateFromPersister(ctx context.Context) {
	if s.persister == nil {
		return
	}
	loaded, err := s.persister.LoadJobs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load jobs from persister")
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	s.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.FileID == "" {
			continue
		}
		job := cloneJob(raw)
		reset := false
		for _, rec := range job.Tasks {
			if rec.Status == task.StatusRunning {
				rec.Status = task.StatusPending
				rec.UpdatedAt = now
				reset = true
			}
		}
		if reset {
			job.CurrentTask = ""
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		s.entries[job.FileID] = &entry{job: job}
		if !job.Status.Terminal() {
			s.active.Add(1)
		}
	}
	s.mu.Unlock()

	for _, job := range toPersist {
		s.persist(job)
	}
}
