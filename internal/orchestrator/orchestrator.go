// Package orchestrator runs the analysis tasks of admitted jobs on a worker
// pool. Tasks are dispatched when their dependencies complete, retried with
// exponential backoff while attempts remain, and cascaded to failure when a
// dependency fails permanently.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/analysis"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

var errNotPending = errors.New("task is not pending")

// dispatch names one task record to run.
type dispatch struct {
	fileID   string
	taskType task.Type
}

type Orchestrator struct {
	workers     int
	maxAttempts int
	backoffBase time.Duration
	taskTimeout time.Duration

	store        *jobs.Store
	capabilities analysis.Registry
	newOperator  func(mediaPath string) media.Operator

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	started bool

	pending  chan dispatch
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

func WithBackoffBase(d time.Duration) Option {
	return func(o *Orchestrator) { o.backoffBase = d }
}

func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.taskTimeout = d }
}

// WithOperatorFactory overrides how media operators are built, mainly so
// tests can run without ffmpeg on the PATH.
func WithOperatorFactory(f func(mediaPath string) media.Operator) Option {
	return func(o *Orchestrator) { o.newOperator = f }
}

func New(store *jobs.Store, capabilities analysis.Registry, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		workers:      4,
		maxAttempts:  3,
		backoffBase:  500 * time.Millisecond,
		taskTimeout:  5 * time.Minute,
		store:        store,
		capabilities: capabilities,
		newOperator:  media.NewOperator,
		rootCtx:      ctx,
		rootCancel:   cancel,
		pending:      make(chan dispatch, 1024),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = 1
	}
	return o
}

// Start spawns the workers and re-dispatches every runnable task of the
// jobs already in the store, which resumes work hydrated from persistence.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	for _, job := range o.store.List() {
		if !job.Status.Terminal() {
			o.dispatchReady(job)
		}
	}

	for range o.workers {
		o.wg.Add(1)
		go o.worker()
	}
}

// Stop cancels in-flight capability calls and waits for the workers to
// drain. Tasks caught mid-run stay running in the store; the next hydration
// resets them to pending.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.rootCancel()
		close(o.stopCh)
		o.wg.Wait()
	})
}

// Admit dispatches the root tasks of a freshly created job. Jobs admitted
// before Start are picked up by the resume scan instead.
func (o *Orchestrator) Admit(job *jobs.Job) {
	if job == nil {
		return
	}
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}
	o.dispatchReady(job)
}

// dispatchReady enqueues every pending task whose dependencies have all
// completed. Duplicate dispatches are harmless, the pending guard in
// markRunning drops them.
func (o *Orchestrator) dispatchReady(job *jobs.Job) {
	done := func(dep task.Type) bool {
		rec, ok := job.Task(dep)
		return ok && rec.Status == task.StatusCompleted
	}
	for _, t := range task.All {
		rec, ok := job.Task(t)
		if !ok || rec.Status != task.StatusPending {
			continue
		}
		if task.Ready(t, done) {
			o.enqueue(dispatch{fileID: job.FileID, taskType: t})
		}
	}
}

func (o *Orchestrator) enqueue(d dispatch) {
	select {
	case o.pending <- d:
	default:
		go func() { o.pending <- d }()
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()

	for {
		select {
		case <-o.stopCh:
			return
		case d := <-o.pending:
			o.run(d)
		}
	}
}

// run executes one task record to a terminal task status. Failed attempts
// stay inside this loop: the record remains running across backoff waits and
// only moves to failed once attempts are exhausted.
func (o *Orchestrator) run(d dispatch) {
	job, err := o.markRunning(d)
	if err != nil {
		if !errors.Is(err, errNotPending) && !apperr.IsKind(err, apperr.KindNotFound) {
			log.Error().Err(err).
				Str("file_id", d.fileID).
				Str("task", string(d.taskType)).
				Msg("failed to mark task running")
		}
		return
	}

	capability, ok := o.capabilities.Resolve(d.taskType)
	if !ok {
		o.failPermanently(d, apperr.Newf(apperr.KindInfrastructure,
			"no capability registered for task %s", d.taskType))
		return
	}

	rec, _ := job.Task(d.taskType)
	if rec.AttemptCount >= o.maxAttempts {
		// attempts were already exhausted before this dispatch, e.g. a
		// restart between the last failure and its terminal mark
		o.failPermanently(d, nil)
		return
	}

	log.Info().
		Str("file_id", d.fileID).
		Str("task", string(d.taskType)).
		Msg("task started")

	for {
		payload, err := o.attempt(job, capability, d.taskType)
		if err == nil {
			o.complete(d, payload)
			return
		}
		if o.rootCtx.Err() != nil {
			return
		}

		attempts, uerr := o.recordFailure(d, err)
		if uerr != nil {
			log.Error().Err(uerr).
				Str("file_id", d.fileID).
				Str("task", string(d.taskType)).
				Msg("failed to record task failure")
			return
		}
		if attempts >= o.maxAttempts {
			o.failPermanently(d, err)
			return
		}

		delay := o.backoffBase << (attempts - 1)
		log.Warn().Err(err).
			Str("file_id", d.fileID).
			Str("task", string(d.taskType)).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Msg("task attempt failed, retrying")

		select {
		case <-o.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// attempt builds the capability request from the job snapshot and runs it
// under the per-attempt timeout.
func (o *Orchestrator) attempt(job *jobs.Job, capability analysis.Capability, t task.Type) (json.RawMessage, error) {
	req := analysis.Request{
		FileID:    job.FileID,
		FileType:  job.FileType,
		MediaPath: job.MediaPath,
	}

	if t == task.Transcription && job.FileType == media.FileTypeVideo {
		audioPath, err := o.extractAudio(job)
		if err != nil {
			return nil, fmt.Errorf("extract audio for transcription: %w", err)
		}
		req.AudioPath = audioPath
	}

	if dependsOnTranscription(t) {
		transcript, err := transcriptOf(job)
		if err != nil {
			return nil, err
		}
		req.Transcript = transcript
	}

	ctx, cancel := context.WithTimeout(o.rootCtx, o.taskTimeout)
	defer cancel()
	return capability.Run(ctx, req)
}

// extractAudio renders the audio track of a video source next to it, named
// after the file id so retries overwrite the same artifact.
func (o *Orchestrator) extractAudio(job *jobs.Job) (string, error) {
	op := o.newOperator(job.MediaPath)
	return op.ExtractAudio(filepath.Dir(job.MediaPath), job.FileID+".mp3")
}

func (o *Orchestrator) markRunning(d dispatch) (*jobs.Job, error) {
	return o.store.UpdateTask(d.fileID, d.taskType, func(rec *jobs.TaskRecord) error {
		if rec.Status != task.StatusPending {
			return errNotPending
		}
		rec.Status = task.StatusRunning
		return nil
	})
}

func (o *Orchestrator) complete(d dispatch, payload json.RawMessage) {
	job, err := o.store.UpdateTask(d.fileID, d.taskType, func(rec *jobs.TaskRecord) error {
		rec.Status = task.StatusCompleted
		rec.Result = payload
		rec.LastError = ""
		return nil
	})
	if err != nil {
		log.Error().Err(err).
			Str("file_id", d.fileID).
			Str("task", string(d.taskType)).
			Msg("failed to mark task completed")
		return
	}

	log.Info().
		Str("file_id", d.fileID).
		Str("task", string(d.taskType)).
		Str("job_status", string(job.Status)).
		Msg("task completed")

	o.dispatchReady(job)
}

func (o *Orchestrator) recordFailure(d dispatch, cause error) (int, error) {
	job, err := o.store.UpdateTask(d.fileID, d.taskType, func(rec *jobs.TaskRecord) error {
		rec.AttemptCount++
		rec.LastError = cause.Error()
		return nil
	})
	if err != nil {
		return 0, err
	}
	rec, _ := job.Task(d.taskType)
	return rec.AttemptCount, nil
}

// failPermanently marks the record failed and cascades the failure to every
// transitive dependent that has not started yet. The cause is stored as a
// task_execution error so the record names its failure class; a nil cause
// keeps the last recorded attempt error instead.
func (o *Orchestrator) failPermanently(d dispatch, cause error) {
	job, err := o.store.UpdateTask(d.fileID, d.taskType, func(rec *jobs.TaskRecord) error {
		rec.Status = task.StatusFailed
		if cause != nil {
			msg := "failed permanently"
			if rec.AttemptCount > 0 {
				msg = fmt.Sprintf("failed after %d attempts", rec.AttemptCount)
			}
			rec.LastError = apperr.Wrap(cause, apperr.KindTaskExecution, msg).Error()
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).
			Str("file_id", d.fileID).
			Str("task", string(d.taskType)).
			Msg("failed to mark task failed")
		return
	}

	rec, _ := job.Task(d.taskType)
	log.Error().
		Str("file_id", d.fileID).
		Str("task", string(d.taskType)).
		Str("error", rec.LastError).
		Msg("task failed permanently")

	for _, dependent := range task.TransitiveDependents(d.taskType) {
		depRec, ok := job.Task(dependent)
		if !ok || depRec.Status != task.StatusPending {
			continue
		}
		_, err := o.store.UpdateTask(d.fileID, dependent, func(rec *jobs.TaskRecord) error {
			if rec.Status != task.StatusPending {
				return errNotPending
			}
			rec.Status = task.StatusFailed
			rec.LastError = apperr.Newf(apperr.KindDependencyFailed,
				"dependency failed: %s", d.taskType).Error()
			return nil
		})
		if err != nil && !errors.Is(err, errNotPending) {
			log.Error().Err(err).
				Str("file_id", d.fileID).
				Str("task", string(dependent)).
				Msg("failed to cascade dependency failure")
		}
	}
}

func dependsOnTranscription(t task.Type) bool {
	for _, dep := range task.Dependencies[t] {
		if dep == task.Transcription {
			return true
		}
	}
	return false
}

// transcriptOf reads the completed transcription text out of the job. The
// dependency gate guarantees it exists by the time a dependent runs.
func transcriptOf(job *jobs.Job) (string, error) {
	rec, ok := job.Task(task.Transcription)
	if !ok || rec.Status != task.StatusCompleted || len(rec.Result) == 0 {
		return "", apperr.Newf(apperr.KindInfrastructure,
			"transcription result unavailable for %s", job.FileID)
	}
	var result task.TranscriptionResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return "", apperr.Wrap(err, apperr.KindInfrastructure, "decode transcription result")
	}
	return result.Text, nil
}
