package task

import "github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"

type Type string

const (
	Transcription     Type = "transcription"
	Summarization     Type = "summarization"
	SentimentAnalysis Type = "sentiment_analysis"
	ObjectDetection   Type = "object_detection"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// All lists every task type in dispatch-stable order. Dependency walks
// iterate this slice so scheduling decisions stay deterministic.
var All = []Type{
	Transcription,
	ObjectDetection,
	Summarization,
	SentimentAnalysis,
}

// Dependencies maps each task type to the tasks whose results it consumes.
// Types absent from the map (or mapped to nil) are roots and run as soon as
// their job is admitted.
var Dependencies = map[Type][]Type{
	Summarization:     {Transcription},
	SentimentAnalysis: {Transcription},
}

// SetFor returns the analysis set for a file type: audio media gets the
// speech chain, video additionally gets object detection.
func SetFor(fileType media.FileType) []Type {
	if fileType == media.FileTypeVideo {
		return []Type{Transcription, Summarization, SentimentAnalysis, ObjectDetection}
	}
	return []Type{Transcription, Summarization, SentimentAnalysis}
}

// Ready reports whether every dependency of t satisfies done.
func Ready(t Type, done func(Type) bool) bool {
	for _, dep := range Dependencies[t] {
		if !done(dep) {
			return false
		}
	}
	return true
}

// Dependents returns the task types that directly consume t's result.
func Dependents(t Type) []Type {
	ret := make([]Type, 0, 2)
	for _, candidate := range All {
		for _, dep := range Dependencies[candidate] {
			if dep == t {
				ret = append(ret, candidate)
				break
			}
		}
	}
	return ret
}

// TransitiveDependents returns every task type that directly or indirectly
// depends on t.
func TransitiveDependents(t Type) []Type {
	seen := make(map[Type]bool)
	ret := make([]Type, 0, len(All))

	queue := Dependents(t)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		ret = append(ret, next)
		queue = append(queue, Dependents(next)...)
	}
	return ret
}
