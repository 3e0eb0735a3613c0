// Package highlight composes caller-chosen time ranges of a stored media
// file into a single reel. Composition is independent of the analysis
// pipeline: a reel can be cut before, during, or after the file's tasks run.
package highlight

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
)

// reelDir is the subdirectory of the upload dir that finished reels land in.
const reelDir = "highlights"

// Segment is one requested time range, in seconds from the start of the
// media.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Response describes a finished reel.
type Response struct {
	FileID        string    `json:"file_id"`
	Segments      []Segment `json:"segments"`
	TotalDuration float64   `json:"total_duration"`
	HighlightPath string    `json:"highlight_path"`
}

// Jobs is the job lookup the service depends on.
type Jobs interface {
	Get(fileID string) (*jobs.Job, error)
}

// Service cuts segments out of stored media and concatenates them with
// ffmpeg. Audio uploads compose to mp3, video uploads to mp4.
type Service struct {
	jobs        Jobs
	uploadDir   string
	newOperator func(mediaPath string) media.Operator
	group       singleflight.Group
}

type Option func(*Service)

// WithOperatorFactory replaces the ffmpeg-backed media operator.
func WithOperatorFactory(fn func(mediaPath string) media.Operator) Option {
	return func(s *Service) { s.newOperator = fn }
}

func NewService(jobs Jobs, uploadDir string, opts ...Option) *Service {
	s := &Service{
		jobs:        jobs,
		uploadDir:   uploadDir,
		newOperator: media.NewOperator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compose validates the requested segments against the stored media file and
// cuts them into a reel. Segments are used exactly as given: order is kept
// and overlapping or repeated ranges are each cut again. Concurrent requests
// for the same file and segment list share a single ffmpeg run.
func (s *Service) Compose(fileID string, segments []Segment) (*Response, error) {
	job, err := s.jobs.Get(fileID)
	if err != nil {
		return nil, err
	}
	if err := validateSegments(segments, job.Duration); err != nil {
		return nil, err
	}
	if _, err := os.Stat(job.MediaPath); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.KindMediaNotReady,
				"media for %s is not on disk yet", fileID)
		}
		return nil, apperr.Wrap(err, apperr.KindInfrastructure, "stat media file")
	}

	name := reelName(job, segments)
	path, err, _ := s.group.Do(name, func() (any, error) {
		return s.compose(job, name, segments)
	})
	if err != nil {
		return nil, err
	}

	return &Response{
		FileID:        fileID,
		Segments:      segments,
		TotalDuration: totalDuration(segments),
		HighlightPath: path.(string),
	}, nil
}

func (s *Service) compose(job *jobs.Job, name string, segments []Segment) (string, error) {
	outDir := filepath.Join(s.uploadDir, reelDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", apperr.Wrap(err, apperr.KindInfrastructure, "create highlight dir")
	}

	clips := make([]media.Clip, len(segments))
	for i, seg := range segments {
		clips[i] = media.Clip{Start: seg.Start, End: seg.End}
	}

	op := s.newOperator(job.MediaPath)
	path, err := op.ComposeClips(clips, job.FileType == media.FileTypeAudio, outDir, name)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindInfrastructure, "compose highlight reel")
	}
	log.Info().
		Str("file_id", job.FileID).
		Int("segments", len(segments)).
		Str("path", path).
		Msg("highlight reel composed")
	return path, nil
}

func validateSegments(segments []Segment, duration float64) error {
	if len(segments) == 0 {
		return apperr.New(apperr.KindInvalidSegment, "at least one segment is required")
	}
	for i, seg := range segments {
		if seg.Start < 0 {
			return apperr.Newf(apperr.KindInvalidSegment,
				"segment %d: start %v is negative", i, seg.Start)
		}
		if seg.End <= seg.Start {
			return apperr.Newf(apperr.KindInvalidSegment,
				"segment %d: end %v is not after start %v", i, seg.End, seg.Start)
		}
		if duration > 0 && seg.End > duration {
			return apperr.Newf(apperr.KindInvalidSegment,
				"segment %d: end %v exceeds media duration %v", i, seg.End, duration)
		}
	}
	return nil
}

// reelName derives a stable output filename from the segment list, so the
// same request always composes to the same file and identical in-flight
// requests collapse onto one run.
func reelName(job *jobs.Job, segments []Segment) string {
	ext := ".mp4"
	if job.FileType == media.FileTypeAudio {
		ext = ".mp3"
	}
	return job.FileID + "_" + segmentHash(segments) + ext
}

func segmentHash(segments []Segment) string {
	h := sha256.New()
	for _, seg := range segments {
		fmt.Fprintf(h, "%v-%v;", seg.Start, seg.End)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func totalDuration(segments []Segment) float64 {
	var total float64
	for _, seg := range segments {
		total += seg.End - seg.Start
	}
	return total
}
