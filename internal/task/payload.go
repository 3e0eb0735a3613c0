package task

// TimedSegment is a span of recognized speech.
type TimedSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscriptionResult struct {
	Text     string         `json:"text"`
	Language string         `json:"language"`
	Segments []TimedSegment `json:"segments,omitempty"`
}

type SummaryResult struct {
	Summary string `json:"summary"`
}

// SentimentResult carries the dominant label plus the per-label scores it
// was derived from.
type SentimentResult struct {
	Overall string             `json:"overall"`
	Scores  map[string]float64 `json:"scores,omitempty"`
}

type DetectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Timestamp  float64 `json:"timestamp"`
}

type ObjectDetectionResult struct {
	Objects []DetectedObject `json:"objects"`
}

// Labels returns the distinct object labels in order of first appearance.
func (r ObjectDetectionResult) Labels() []string {
	seen := make(map[string]bool, len(r.Objects))
	ret := make([]string, 0, len(r.Objects))
	for _, obj := range r.Objects {
		if seen[obj.Label] {
			continue
		}
		seen[obj.Label] = true
		ret = append(ret, obj.Label)
	}
	return ret
}
