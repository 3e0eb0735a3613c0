// Package projector serves the read side of the pipeline: job status views,
// per-task results, store analytics, and the search projection of completed
// jobs.
package projector

import (
	"encoding/json"
	"time"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

// Jobs is the snapshot source the read model is built from.
type Jobs interface {
	Get(fileID string) (*jobs.Job, error)
	List() []*jobs.Job
}

// StatusView is the public status shape of one job. AvailableResults lists
// the tasks whose payloads can be fetched right now, which keeps partial
// results reachable when the job as a whole has failed.
type StatusView struct {
	FileID           string      `json:"file_id"`
	Status           jobs.Status `json:"status"`
	CurrentTask      task.Type   `json:"current_task,omitempty"`
	AvailableResults []task.Type `json:"available_results"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

// ResultView wraps one completed task payload.
type ResultView struct {
	FileID    string          `json:"file_id"`
	Task      task.Type       `json:"task"`
	Result    json.RawMessage `json:"result"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Overview aggregates the whole store for the analytics endpoint. Sentiment
// buckets count jobs whose sentiment task completed.
type Overview struct {
	TotalJobs   int            `json:"total_jobs"`
	ByStatus    map[string]int `json:"by_status"`
	ByFileType  map[string]int `json:"by_file_type"`
	BySentiment map[string]int `json:"by_sentiment"`
}

type Service struct {
	jobs Jobs
}

func NewService(jobs Jobs) *Service {
	return &Service{jobs: jobs}
}

func (s *Service) Status(fileID string) (*StatusView, error) {
	job, err := s.jobs.Get(fileID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		FileID:           job.FileID,
		Status:           job.Status,
		CurrentTask:      job.CurrentTask,
		AvailableResults: job.CompletedTasks(),
		ErrorMessage:     job.ErrorMessage,
	}, nil
}

// Result returns the payload of a completed task. A task type outside the
// job's analysis set reads as not found, a known task that has not finished
// as not ready; a failed record carries its last error in the detail.
func (s *Service) Result(fileID string, taskType task.Type) (*ResultView, error) {
	job, err := s.jobs.Get(fileID)
	if err != nil {
		return nil, err
	}
	rec, ok := job.Task(taskType)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound,
			"task %s is not part of the analysis for %s", taskType, fileID)
	}
	if rec.Status != task.StatusCompleted {
		if rec.LastError != "" {
			return nil, apperr.Newf(apperr.KindNotReady,
				"task %s for %s is %s: %s", taskType, fileID, rec.Status, rec.LastError)
		}
		return nil, apperr.Newf(apperr.KindNotReady,
			"task %s for %s is %s", taskType, fileID, rec.Status)
	}
	return &ResultView{
		FileID:    job.FileID,
		Task:      taskType,
		Result:    rec.Result,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (s *Service) Overview() Overview {
	jobList := s.jobs.List()
	overview := Overview{
		TotalJobs:   len(jobList),
		ByStatus:    make(map[string]int),
		ByFileType:  make(map[string]int),
		BySentiment: make(map[string]int),
	}
	for _, job := range jobList {
		overview.ByStatus[string(job.Status)]++
		overview.ByFileType[string(job.FileType)]++

		rec, ok := job.Task(task.SentimentAnalysis)
		if !ok || rec.Status != task.StatusCompleted {
			continue
		}
		var result task.SentimentResult
		if err := json.Unmarshal(rec.Result, &result); err != nil || result.Overall == "" {
			continue
		}
		overview.BySentiment[result.Overall]++
	}
	return overview
}
