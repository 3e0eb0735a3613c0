package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
)

// newFakeIndex wires an Index against a stub cluster. The product header is
// required or the v8 client refuses to talk to the server.
func newFakeIndex(t *testing.T, handler http.HandlerFunc) *Index {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	idx, err := NewIndex([]string{srv.URL}, "media_files")
	require.NoError(t, err)
	return idx
}

func TestNewIndex_RequiresName(t *testing.T) {
	_, err := NewIndex([]string{"http://localhost:9200"}, " ")
	require.Error(t, err)
}

func TestIndex_EnsureCreatesMissingIndex(t *testing.T) {
	var createdBody string
	idx := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/media_files":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/media_files":
			body, _ := io.ReadAll(r.Body)
			createdBody = string(body)
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	require.NoError(t, idx.Ensure(context.Background()))
	assert.Contains(t, createdBody, `"transcription_text"`)
	assert.Contains(t, createdBody, `"objects_detected"`)
	assert.Contains(t, createdBody, `"confidence_scores"`)
}

func TestIndex_EnsureSkipsExistingIndex(t *testing.T) {
	idx := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			t.Error("index creation attempted even though the index exists")
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, idx.Ensure(context.Background()))
}

func TestIndex_UpsertUsesFileIDAsDocumentID(t *testing.T) {
	var gotPath string
	var gotDoc Document
	idx := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotDoc))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	doc := Document{
		FileID:            "file-123",
		Filename:          "meeting.mp4",
		FileType:          "video",
		TranscriptionText: "quarterly results",
		SummaryText:       "a meeting about results",
		Language:          "en",
		Sentiment:         "neutral",
		ObjectsDetected:   []string{"person", "laptop"},
		CreatedAt:         time.Now().UTC(),
		Duration:          90,
	}
	require.NoError(t, idx.Upsert(context.Background(), doc))

	assert.Equal(t, "/media_files/_doc/file-123", gotPath)
	assert.Equal(t, "meeting.mp4", gotDoc.Filename)
	assert.Equal(t, []string{"person", "laptop"}, gotDoc.ObjectsDetected)
}

func TestIndex_SearchBuildsQueryAndDecodesHits(t *testing.T) {
	var gotBody map[string]any
	idx := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/_search"), "unexpected path %s", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{
			"hits": {
				"total": {"value": 1},
				"hits": [{
					"_id": "file-123",
					"_score": 2.5,
					"_source": {
						"file_id": "file-123",
						"filename": "meeting.mp4",
						"file_type": "video",
						"language": "en"
					},
					"highlight": {"transcription_text": ["<em>results</em>"]}
				}]
			}
		}`))
	})

	result, err := idx.Search(context.Background(), Query{
		Text:     "results",
		FileType: "video",
		Size:     5,
		From:     10,
	})
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Total)
	hit := result.Results[0]
	assert.Equal(t, "file-123", hit.FileID)
	assert.Equal(t, 2.5, hit.Score)
	assert.Equal(t, "meeting.mp4", hit.Source.Filename)
	assert.Equal(t, []string{"<em>results</em>"}, hit.Highlights["transcription_text"])

	raw, err := json.Marshal(gotBody)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"filename^2"`)
	assert.Contains(t, string(raw), `"multi_match"`)
	assert.Contains(t, string(raw), `{"term":{"file_type":"video"}}`)
	assert.NotContains(t, string(raw), `"language":{`, "empty filters must be omitted")
	assert.Equal(t, float64(5), gotBody["size"])
	assert.Equal(t, float64(10), gotBody["from"])
}

func TestIndex_SearchErrorIsInfrastructure(t *testing.T) {
	idx := newFakeIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"cluster is down"}`))
	})

	_, err := idx.Search(context.Background(), Query{Text: "anything"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInfrastructure))
	assert.Contains(t, err.Error(), "503")
}

func TestIndex_Ping(t *testing.T) {
	idx := newFakeIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, idx.Ping(context.Background()))

	down := newFakeIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := down.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInfrastructure))
}

func TestIndex_AggregateDecodesBuckets(t *testing.T) {
	var gotBody map[string]any
	idx := newFakeIndex(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{
			"aggregations": {
				"language_stats": {
					"buckets": [
						{"key": "en", "doc_count": 7},
						{"key": "es", "doc_count": 2}
					]
				}
			}
		}`))
	})

	buckets, err := idx.Aggregate(context.Background(), "language")
	require.NoError(t, err)

	require.Len(t, buckets, 2)
	assert.Equal(t, Bucket{Key: "en", DocCount: 7}, buckets[0])
	assert.Equal(t, Bucket{Key: "es", DocCount: 2}, buckets[1])

	raw, err := json.Marshal(gotBody)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"language_stats"`)
	assert.Contains(t, string(raw), `"size":50`)
	assert.Equal(t, float64(0), gotBody["size"])
}
