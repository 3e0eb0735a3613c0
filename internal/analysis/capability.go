package analysis

import (
	"context"
	"encoding/json"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

// Request carries everything a capability needs for one task run.
type Request struct {
	FileID    string
	FileType  media.FileType
	MediaPath string
	// AudioPath points at the extracted audio track when the source is
	// video; transcription prefers it over MediaPath.
	AudioPath string
	// Transcript is the completed transcription text, set for tasks that
	// depend on it.
	Transcript string
}

// Capability runs one analysis task and returns its result payload as JSON.
type Capability interface {
	Run(ctx context.Context, req Request) (json.RawMessage, error)
}

type Func func(ctx context.Context, req Request) (json.RawMessage, error)

func (f Func) Run(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

type Registry map[task.Type]Capability

func (r Registry) Resolve(t task.Type) (Capability, bool) {
	c, ok := r[t]
	return c, ok
}

// NewRegistry wires every analysis task type to the inference client.
func NewRegistry(client *Client) Registry {
	return Registry{
		task.Transcription: Func(func(ctx context.Context, req Request) (json.RawMessage, error) {
			source := req.MediaPath
			if req.AudioPath != "" {
				source = req.AudioPath
			}
			res, err := client.Transcribe(ctx, req.FileID, source)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		}),
		task.Summarization: Func(func(ctx context.Context, req Request) (json.RawMessage, error) {
			res, err := client.Summarize(ctx, req.FileID, req.Transcript)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		}),
		task.SentimentAnalysis: Func(func(ctx context.Context, req Request) (json.RawMessage, error) {
			res, err := client.AnalyzeSentiment(ctx, req.FileID, req.Transcript)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		}),
		task.ObjectDetection: Func(func(ctx context.Context, req Request) (json.RawMessage, error) {
			res, err := client.DetectObjects(ctx, req.FileID, req.MediaPath)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		}),
	}
}
