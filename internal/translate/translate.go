// Package translate renders caller-supplied text, or a file's completed
// transcript, into another language on demand. Translation is stateless: it
// never touches the task graph, so the same text can be translated into any
// number of targets, repeatedly.
package translate

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

// supportedTargets is the set of translation targets the inference models
// are provisioned for.
var supportedTargets = map[string]bool{
	"es": true,
	"fr": true,
	"de": true,
	"it": true,
	"pt": true,
	"ru": true,
	"ja": true,
	"ko": true,
	"zh": true,
}

// SupportedTargets lists the accepted target language codes, sorted.
func SupportedTargets() []string {
	ret := make([]string, 0, len(supportedTargets))
	for code := range supportedTargets {
		ret = append(ret, code)
	}
	sort.Strings(ret)
	return ret
}

type Jobs interface {
	Get(fileID string) (*jobs.Job, error)
}

type Client interface {
	Translate(ctx context.Context, text string, sourceLanguage string, targetLanguage string) (string, error)
}

type Request struct {
	FileID string
	// Text is the content to translate. When empty, the file's completed
	// transcript is translated instead.
	Text           string
	TargetLanguage string
	// SourceLanguage is optional; empty or "auto" triggers detection over
	// the text being translated.
	SourceLanguage string
}

type Response struct {
	FileID         string `json:"file_id"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	TranslatedText string `json:"translated_text"`
}

type Service struct {
	jobs   Jobs
	client Client
}

func NewService(jobs Jobs, client Client) *Service {
	return &Service{jobs: jobs, client: client}
}

// Translate renders req.Text into the target language. Requests that carry
// text never consult job state; requests without it fall back to the file's
// completed transcript.
func (s *Service) Translate(ctx context.Context, req Request) (*Response, error) {
	target := strings.ToLower(strings.TrimSpace(req.TargetLanguage))
	if !supportedTargets[target] {
		return nil, apperr.Newf(apperr.KindUnsupportedLanguage,
			"target language %q is not supported", req.TargetLanguage)
	}

	text := req.Text
	if strings.TrimSpace(text) == "" {
		job, err := s.jobs.Get(req.FileID)
		if err != nil {
			return nil, err
		}
		text, err = transcriptText(job)
		if err != nil {
			return nil, err
		}
	}

	source := strings.ToLower(strings.TrimSpace(req.SourceLanguage))
	if source == "" || source == "auto" {
		source = DetectLanguage(text)
	}

	translated, err := s.client.Translate(ctx, text, source, target)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "translate text")
	}

	return &Response{
		FileID:         req.FileID,
		SourceLanguage: source,
		TargetLanguage: target,
		TranslatedText: translated,
	}, nil
}

func transcriptText(job *jobs.Job) (string, error) {
	rec, ok := job.Task(task.Transcription)
	if !ok || rec.Status != task.StatusCompleted {
		return "", apperr.Newf(apperr.KindNotReady,
			"transcription for %s is not ready", job.FileID)
	}
	var result task.TranscriptionResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return "", apperr.Wrap(err, apperr.KindInfrastructure, "decode transcription result")
	}
	if strings.TrimSpace(result.Text) == "" {
		return "", apperr.Newf(apperr.KindNotReady,
			"transcription for %s is empty", job.FileID)
	}
	return result.Text, nil
}

// DetectLanguage majority-votes whatlanggo across the transcript lines and
// normalizes the winner to ISO-639-1. Text it cannot place falls back to
// "en".
func DetectLanguage(text string) string {
	counts := make(map[string]int)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		iso := whatlanggo.DetectLang(line).Iso6391()
		if iso == "" {
			continue
		}
		counts[iso]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if count > topCount {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return "en"
	}

	base, conf := language.All.Make(top).Base()
	if conf == language.No {
		return "en"
	}
	return base.String()
}
