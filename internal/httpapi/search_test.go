package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/search"
)

type fakeSearcher struct {
	lastQuery search.Query
	lastField string
	result    *search.Result
	buckets   []search.Bucket
	err       error
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) (*search.Result, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &search.Result{Results: []search.Hit{}}, nil
}

func (f *fakeSearcher) Aggregate(_ context.Context, field string) ([]search.Bucket, error) {
	f.lastField = field
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets, nil
}

func newSearchServer(t *testing.T, index Searcher) *Server {
	t.Helper()
	return NewServer(jobs.NewStore(8, nil), &fakeAdmitter{}, t.TempDir(), WithSearch(index))
}

func TestServer_Search_GetPassesParamsThrough(t *testing.T) {
	index := &fakeSearcher{result: &search.Result{
		Total: 1,
		Results: []search.Hit{{
			FileID: "file-1",
			Score:  3.2,
			Source: search.Document{FileID: "file-1", Filename: "meeting.mp4"},
		}},
	}}
	srv := newSearchServer(t, index)

	req := httptest.NewRequest(http.MethodGet,
		"/api/search?q=quarterly+results&file_type=video&language=en&limit=5&offset=20", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, search.Query{
		Text:     "quarterly results",
		FileType: "video",
		Language: "en",
		Size:     5,
		From:     20,
	}, index.lastQuery)

	var resp search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "file-1", resp.Results[0].FileID)
}

func TestServer_Search_PostBodyIsAccepted(t *testing.T) {
	index := &fakeSearcher{}
	srv := newSearchServer(t, index)

	body := []byte(`{"q":"cats","sentiment":"positive","limit":500}`)
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cats", index.lastQuery.Text)
	assert.Equal(t, "positive", index.lastQuery.Sentiment)
	assert.Equal(t, maxSearchLimit, index.lastQuery.Size, "limit is capped")
}

func TestServer_Search_RequiresQuery(t *testing.T) {
	srv := newSearchServer(t, &fakeSearcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/search?file_type=video", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp.Error)
	assert.Contains(t, resp.Detail, "q is required")
}

func TestServer_Search_IndexDownIs503(t *testing.T) {
	index := &fakeSearcher{err: apperr.New(apperr.KindInfrastructure, "search request failed")}
	srv := newSearchServer(t, index)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=anything", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "infrastructure", resp.Error)
}

func TestServer_Search_NotConfiguredIs501(t *testing.T) {
	srv := NewServer(jobs.NewStore(8, nil), &fakeAdmitter{}, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=anything", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Aggregations_ReturnsBuckets(t *testing.T) {
	index := &fakeSearcher{buckets: []search.Bucket{
		{Key: "en", DocCount: 7},
		{Key: "es", DocCount: 2},
	}}
	srv := newSearchServer(t, index)

	req := httptest.NewRequest(http.MethodGet, "/api/aggregations/language", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "language", index.lastField)

	var resp aggregationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "language", resp.Field)
	require.Len(t, resp.Buckets, 2)
	assert.Equal(t, "en", resp.Buckets[0].Key)
	assert.Equal(t, 7, resp.Buckets[0].DocCount)
}

func TestServer_Aggregations_EmptyIndexYieldsEmptyBuckets(t *testing.T) {
	srv := newSearchServer(t, &fakeSearcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/aggregations/sentiment", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"field":"sentiment","buckets":[]}`, rec.Body.String())
}

func TestServer_Aggregations_UnknownFieldIs400(t *testing.T) {
	srv := newSearchServer(t, &fakeSearcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/aggregations/filename", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp.Error)
	assert.Contains(t, resp.Detail, "not aggregatable")
}
