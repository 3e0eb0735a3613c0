package jobs

import (
	"encoding/json"
	"time"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// TaskRecord tracks one analysis task of a job. Result holds the capability
// payload as JSON and is non-nil exactly when Status is completed.
type TaskRecord struct {
	Type         task.Type       `json:"type"`
	Status       task.Status     `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Job is one uploaded media file and the analysis work attached to it.
// Status is derived from the task records, never set directly:
//
//	completed:  every record completed
//	error:      at least one record permanently failed
//	processing: at least one record left pending, no terminal condition
//	uploaded:   all records still pending
type Job struct {
	FileID       string                    `json:"file_id"`
	Filename     string                    `json:"filename"`
	FileType     media.FileType            `json:"file_type"`
	Status       Status                    `json:"status"`
	CurrentTask  task.Type                 `json:"current_task,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	MediaPath    string                    `json:"media_path"`
	SizeBytes    int64                     `json:"file_size"`
	Duration     float64                   `json:"duration,omitempty"`
	Tasks        map[task.Type]*TaskRecord `json:"tasks"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// New builds a job in the uploaded state with a pending record for every
// task in the file type's analysis set.
func New(fileID string, filename string, fileType media.FileType, mediaPath string, sizeBytes int64) *Job {
	now := time.Now()
	job := &Job{
		FileID:    fileID,
		Filename:  filename,
		FileType:  fileType,
		Status:    StatusUploaded,
		MediaPath: mediaPath,
		SizeBytes: sizeBytes,
		Tasks:     make(map[task.Type]*TaskRecord),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range task.SetFor(fileType) {
		job.Tasks[t] = &TaskRecord{
			Type:      t,
			Status:    task.StatusPending,
			UpdatedAt: now,
		}
	}
	return job
}

// Task returns the record for t, or false when t is not part of this job's
// analysis set.
func (j *Job) Task(t task.Type) (*TaskRecord, bool) {
	rec, ok := j.Tasks[t]
	return rec, ok
}

// CompletedTasks lists the task types whose results are available, in
// dispatch order.
func (j *Job) CompletedTasks() []task.Type {
	ret := make([]task.Type, 0, len(j.Tasks))
	for _, t := range task.All {
		if rec, ok := j.Tasks[t]; ok && rec.Status == task.StatusCompleted {
			ret = append(ret, t)
		}
	}
	return ret
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Tasks = make(map[task.Type]*TaskRecord, len(job.Tasks))
	for t, rec := range job.Tasks {
		recCopy := *rec
		tmp.Tasks[t] = &recCopy
	}
	return &tmp
}
