package projector

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

type fakeJobs struct {
	byID map[string]*jobs.Job
}

func newFakeJobs(jobList ...*jobs.Job) fakeJobs {
	byID := make(map[string]*jobs.Job, len(jobList))
	for _, job := range jobList {
		byID[job.FileID] = job
	}
	return fakeJobs{byID: byID}
}

func (f fakeJobs) Get(fileID string) (*jobs.Job, error) {
	job, ok := f.byID[fileID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "file %s not found", fileID)
	}
	return job, nil
}

func (f fakeJobs) List() []*jobs.Job {
	ret := make([]*jobs.Job, 0, len(f.byID))
	for _, job := range f.byID {
		ret = append(ret, job)
	}
	return ret
}

func videoJob(fileID string) *jobs.Job {
	return jobs.New(fileID, "clip.mp4", media.FileTypeVideo, "/tmp/"+fileID+".mp4", 2048)
}

func audioJob(fileID string) *jobs.Job {
	return jobs.New(fileID, "note.mp3", media.FileTypeAudio, "/tmp/"+fileID+".mp3", 512)
}

func completeTask(t *testing.T, job *jobs.Job, taskType task.Type, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job.Tasks[taskType].Status = task.StatusCompleted
	job.Tasks[taskType].Result = raw
}

func TestStatus_ListsAvailableResults(t *testing.T) {
	t.Parallel()

	job := videoJob("file-1")
	job.Status = jobs.StatusProcessing
	job.CurrentTask = task.Summarization
	completeTask(t, job, task.Transcription, task.TranscriptionResult{Text: "hello"})
	completeTask(t, job, task.ObjectDetection, task.ObjectDetectionResult{})
	job.Tasks[task.Summarization].Status = task.StatusRunning

	svc := NewService(newFakeJobs(job))

	view, err := svc.Status("file-1")
	require.NoError(t, err)

	assert.Equal(t, "file-1", view.FileID)
	assert.Equal(t, jobs.StatusProcessing, view.Status)
	assert.Equal(t, task.Summarization, view.CurrentTask)
	assert.Equal(t, []task.Type{task.Transcription, task.ObjectDetection}, view.AvailableResults)
	assert.Empty(t, view.ErrorMessage)
}

func TestStatus_ErrorJobKeepsPartialResults(t *testing.T) {
	t.Parallel()

	job := videoJob("file-1")
	job.Status = jobs.StatusError
	job.ErrorMessage = "inference exploded"
	completeTask(t, job, task.Transcription, task.TranscriptionResult{Text: "hello"})
	job.Tasks[task.ObjectDetection].Status = task.StatusFailed

	svc := NewService(newFakeJobs(job))

	view, err := svc.Status("file-1")
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusError, view.Status)
	assert.Equal(t, "inference exploded", view.ErrorMessage)
	assert.Contains(t, view.AvailableResults, task.Transcription)
}

func TestStatus_UnknownFileIsNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeJobs())

	_, err := svc.Status("nope")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestResult_ReturnsPayload(t *testing.T) {
	t.Parallel()

	job := audioJob("file-1")
	completeTask(t, job, task.Transcription, task.TranscriptionResult{Text: "hello world", Language: "en"})

	svc := NewService(newFakeJobs(job))

	view, err := svc.Result("file-1", task.Transcription)
	require.NoError(t, err)

	assert.Equal(t, "file-1", view.FileID)
	assert.Equal(t, task.Transcription, view.Task)
	assert.JSONEq(t, `{"text":"hello world","language":"en"}`, string(view.Result))
}

func TestResult_PendingTaskIsNotReady(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeJobs(audioJob("file-1")))

	_, err := svc.Result("file-1", task.Summarization)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotReady))
	assert.Contains(t, err.Error(), "pending")
}

func TestResult_FailedTaskDetailCarriesLastError(t *testing.T) {
	t.Parallel()

	job := audioJob("file-1")
	job.Tasks[task.Transcription].Status = task.StatusFailed
	job.Tasks[task.Transcription].LastError = apperr.Wrap(assert.AnError,
		apperr.KindTaskExecution, "failed after 3 attempts").Error()
	job.Tasks[task.Summarization].Status = task.StatusFailed
	job.Tasks[task.Summarization].LastError = apperr.Newf(apperr.KindDependencyFailed,
		"dependency failed: %s", task.Transcription).Error()

	svc := NewService(newFakeJobs(job))

	_, err := svc.Result("file-1", task.Transcription)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotReady))
	assert.Contains(t, err.Error(), assert.AnError.Error())

	_, err = svc.Result("file-1", task.Summarization)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotReady))
	assert.Contains(t, err.Error(), "dependency failed: transcription")
}

func TestResult_TaskOutsideAnalysisSetIsNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeJobs(audioJob("file-1")))

	_, err := svc.Result("file-1", task.ObjectDetection)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestResult_UnknownFileIsNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeJobs())

	_, err := svc.Result("nope", task.Transcription)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestOverview_CountsJobsByStatusTypeAndSentiment(t *testing.T) {
	t.Parallel()

	done := videoJob("file-1")
	done.Status = jobs.StatusCompleted
	completeTask(t, done, task.SentimentAnalysis, task.SentimentResult{Overall: "positive"})

	working := videoJob("file-2")
	working.Status = jobs.StatusProcessing

	failed := audioJob("file-3")
	failed.Status = jobs.StatusError
	completeTask(t, failed, task.SentimentAnalysis, task.SentimentResult{Overall: "negative"})

	svc := NewService(newFakeJobs(done, working, failed))

	overview := svc.Overview()

	assert.Equal(t, 3, overview.TotalJobs)
	assert.Equal(t, map[string]int{"completed": 1, "processing": 1, "error": 1}, overview.ByStatus)
	assert.Equal(t, map[string]int{"video": 2, "audio": 1}, overview.ByFileType)
	assert.Equal(t, map[string]int{"positive": 1, "negative": 1}, overview.BySentiment)
}
