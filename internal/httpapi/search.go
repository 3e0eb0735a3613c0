package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/search"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// aggregatableFields are the keyword fields of the index; anything else would
// make Elasticsearch fail the terms aggregation.
var aggregatableFields = map[string]bool{
	"file_type":        true,
	"language":         true,
	"sentiment":        true,
	"objects_detected": true,
}

type searchRequest struct {
	Query     string `json:"q"`
	FileType  string `json:"file_type"`
	Language  string `json:"language"`
	Sentiment string `json:"sentiment"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "search is not configured")
		return
	}

	var req searchRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req = searchRequest{
			Query:     q.Get("q"),
			FileType:  q.Get("file_type"),
			Language:  q.Get("language"),
			Sentiment: q.Get("sentiment"),
			Limit:     parsePositiveIntWithDefault(q.Get("limit"), defaultSearchLimit),
			Offset:    parsePositiveIntWithDefault(q.Get("offset"), 0),
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid json body")
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "q is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	result, err := s.search.Search(r.Context(), search.Query{
		Text:      req.Query,
		FileType:  req.FileType,
		Language:  req.Language,
		Sentiment: req.Sentiment,
		Size:      req.Limit,
		From:      req.Offset,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type aggregationResponse struct {
	Field   string          `json:"field"`
	Buckets []search.Bucket `json:"buckets"`
}

func (s *Server) handleAggregations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.search == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "search is not configured")
		return
	}
	field, ok := pathSuffixID(r.URL.Path, "/api/aggregations/")
	if !ok {
		writeError(w, http.StatusNotFound, string(apperr.KindNotFound), "not found")
		return
	}
	if !aggregatableFields[field] {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation),
			fmt.Sprintf("field %q is not aggregatable", field))
		return
	}

	buckets, err := s.search.Aggregate(r.Context(), field)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if buckets == nil {
		buckets = []search.Bucket{}
	}
	writeJSON(w, http.StatusOK, aggregationResponse{
		Field:   field,
		Buckets: buckets,
	})
}
