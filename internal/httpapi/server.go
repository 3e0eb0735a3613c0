package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/highlight"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/projector"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/search"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/translate"
)

const serviceName = "polyglot-media-analyzer"

// Admitter hands a freshly created job to the processing pipeline.
type Admitter interface {
	Admit(job *jobs.Job)
}

// Searcher is the slice of the search index the API needs.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
	Aggregate(ctx context.Context, field string) ([]search.Bucket, error)
}

type Server struct {
	store     *jobs.Store
	orch      Admitter
	status    *projector.Service
	translate *translate.Service
	highlight *highlight.Service
	search    Searcher

	uploadDir   string
	newOperator func(mediaPath string) media.Operator

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithSearch(index Searcher) Option {
	return func(s *Server) {
		s.search = index
	}
}

func WithTranslator(svc *translate.Service) Option {
	return func(s *Server) {
		s.translate = svc
	}
}

func WithHighlights(svc *highlight.Service) Option {
	return func(s *Server) {
		s.highlight = svc
	}
}

// WithOperatorFactory swaps the ffprobe-backed media operator used to probe
// upload durations.
func WithOperatorFactory(f func(mediaPath string) media.Operator) Option {
	return func(s *Server) {
		s.newOperator = f
	}
}

func NewServer(store *jobs.Store, orch Admitter, uploadDir string, opts ...Option) *Server {
	s := &Server{
		store:       store,
		orch:        orch,
		status:      projector.NewService(store),
		uploadDir:   uploadDir,
		newOperator: media.NewOperator,
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withLogging(withRecovery(s.mux))
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/api/status/", s.handleStatus)
	s.mux.HandleFunc("/api/transcription/", s.resultHandler("/api/transcription/", task.Transcription))
	s.mux.HandleFunc("/api/summary/", s.resultHandler("/api/summary/", task.Summarization))
	s.mux.HandleFunc("/api/sentiment/", s.resultHandler("/api/sentiment/", task.SentimentAnalysis))
	s.mux.HandleFunc("/api/objects/", s.resultHandler("/api/objects/", task.ObjectDetection))
	s.mux.HandleFunc("/api/translate/", s.handleTranslate)
	s.mux.HandleFunc("/api/highlight/", s.handleHighlight)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/aggregations/", s.handleAggregations)
	s.mux.HandleFunc("/api/analytics/overview", s.handleOverview)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(s.uploadDir))))
}
