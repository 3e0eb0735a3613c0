package projector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/search"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
	"github.com/r3ximous/Polyglot-Media-Analyzer/pkg/sched"
)

// Writer is the slice of the search index the projector writes to.
type Writer interface {
	Upsert(ctx context.Context, doc search.Document) error
}

// Indexer keeps the search index in step with the job store. The live path
// projects each job as it completes; a cron sweep re-projects recent
// completions as the at-least-once repair for upserts that failed.
type Indexer struct {
	jobs     Jobs
	index    Writer
	cronExpr string
	timeout  time.Duration

	cron  *cron.Cron
	group singleflight.Group

	mu        sync.Mutex
	lastSweep time.Time
}

func NewIndexer(jobs Jobs, index Writer, cronExpr string) *Indexer {
	return &Indexer{
		jobs:     jobs,
		index:    index,
		cronExpr: cronExpr,
		timeout:  30 * time.Second,
		cron:     cron.New(),
	}
}

// OnJobTerminal is registered as the store's terminal hook. Only completed
// jobs are projected: a job that ended in error never surfaces in search,
// its partial results stay readable through the result endpoints instead.
// Indexing runs in its own goroutine and never fails the job.
func (ix *Indexer) OnJobTerminal(job *jobs.Job) {
	if job.Status != jobs.StatusCompleted {
		return
	}
	go ix.project(job)
}

func (ix *Indexer) project(job *jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), ix.timeout)
	defer cancel()

	doc, err := BuildDocument(job)
	if err != nil {
		log.Warn().Err(err).Str("file_id", job.FileID).Msg("search document build failed")
		return
	}
	if err := ix.index.Upsert(ctx, doc); err != nil {
		log.Warn().Err(err).Str("file_id", job.FileID).Msg("search index update failed")
		return
	}
	log.Info().Str("file_id", job.FileID).Msg("job projected to search")
}

// Schedule registers the reindex sweep and starts the cron runner.
func (ix *Indexer) Schedule() error {
	runFunc := func() {
		_, _, _ = ix.group.Do("reindex", func() (any, error) {
			ix.Sweep()
			return nil, nil
		})
	}
	if _, err := ix.cron.AddFunc(ix.cronExpr, runFunc); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "register reindex cron")
	}
	ix.cron.Start()
	return nil
}

// StopSchedule stops the cron runner and waits for a sweep in flight.
func (ix *Indexer) StopSchedule() {
	<-ix.cron.Stop().Done()
}

// Sweep re-upserts every job completed inside the current trigger window.
func (ix *Indexer) Sweep() {
	now := time.Now()
	since := ix.windowStart(now)

	swept := 0
	for _, job := range ix.jobs.List() {
		if job.Status != jobs.StatusCompleted || job.UpdatedAt.Before(since) {
			continue
		}
		ix.project(job)
		swept++
	}

	ix.mu.Lock()
	ix.lastSweep = now
	ix.mu.Unlock()

	log.Info().Int("jobs", swept).Time("since", since).Msg("reindex sweep finished")
}

// windowStart bounds a sweep to the work since the previous trigger. The
// first sweep after startup has no recorded trigger, so the window is
// derived from the cron expression and widened to at least a day, repairing
// completions that were missed while the service was down.
func (ix *Indexer) windowStart(now time.Time) time.Time {
	ix.mu.Lock()
	last := ix.lastSweep
	ix.mu.Unlock()
	if !last.IsZero() {
		return last
	}

	trigger, err := sched.Resolve(ix.cronExpr, now)
	if err != nil || trigger.Last.IsZero() {
		return time.Time{}
	}
	if dayAgo := now.Add(-24 * time.Hour); trigger.Last.After(dayAgo) {
		return dayAgo
	}
	return trigger.Last
}

// BuildDocument flattens a job's completed task payloads into its search
// document.
func BuildDocument(job *jobs.Job) (search.Document, error) {
	doc := search.Document{
		FileID:    job.FileID,
		Filename:  job.Filename,
		FileType:  string(job.FileType),
		CreatedAt: job.CreatedAt,
		Duration:  job.Duration,
	}

	if rec, ok := completedRecord(job, task.Transcription); ok {
		var result task.TranscriptionResult
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return search.Document{}, apperr.Wrap(err, apperr.KindInfrastructure, "decode transcription result")
		}
		doc.TranscriptionText = result.Text
		doc.Language = result.Language
	}
	if rec, ok := completedRecord(job, task.Summarization); ok {
		var result task.SummaryResult
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return search.Document{}, apperr.Wrap(err, apperr.KindInfrastructure, "decode summary result")
		}
		doc.SummaryText = result.Summary
	}
	if rec, ok := completedRecord(job, task.SentimentAnalysis); ok {
		var result task.SentimentResult
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return search.Document{}, apperr.Wrap(err, apperr.KindInfrastructure, "decode sentiment result")
		}
		doc.Sentiment = result.Overall
	}
	if rec, ok := completedRecord(job, task.ObjectDetection); ok {
		var result task.ObjectDetectionResult
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return search.Document{}, apperr.Wrap(err, apperr.KindInfrastructure, "decode object detection result")
		}
		doc.ObjectsDetected = result.Labels()
	}
	return doc, nil
}

func completedRecord(job *jobs.Job, t task.Type) (*jobs.TaskRecord, bool) {
	rec, ok := job.Task(t)
	if !ok || rec.Status != task.StatusCompleted {
		return nil, false
	}
	return rec, true
}
