// Package search maintains the Elasticsearch read index of completed
// analyses and serves full-text queries over it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
)

// mapping is the index schema. Keyword fields back the term filters and
// aggregations, text fields are what the multi_match query runs over.
const mapping = `{
  "mappings": {
    "properties": {
      "file_id": {"type": "keyword"},
      "filename": {"type": "text", "analyzer": "standard"},
      "file_type": {"type": "keyword"},
      "transcription_text": {"type": "text", "analyzer": "standard"},
      "translation_text": {"type": "text", "analyzer": "standard"},
      "summary_text": {"type": "text", "analyzer": "standard"},
      "language": {"type": "keyword"},
      "sentiment": {"type": "keyword"},
      "objects_detected": {"type": "keyword"},
      "created_at": {"type": "date"},
      "duration": {"type": "float"},
      "confidence_scores": {"type": "object", "enabled": false}
    }
  }
}`

// Document is one indexed media file. Only completed jobs are ever
// projected into the index.
type Document struct {
	FileID            string    `json:"file_id"`
	Filename          string    `json:"filename"`
	FileType          string    `json:"file_type"`
	TranscriptionText string    `json:"transcription_text"`
	SummaryText       string    `json:"summary_text"`
	Language          string    `json:"language"`
	Sentiment         string    `json:"sentiment"`
	ObjectsDetected   []string  `json:"objects_detected"`
	CreatedAt         time.Time `json:"created_at"`
	Duration          float64   `json:"duration"`
}

// Query is a full-text search with optional exact filters.
type Query struct {
	Text      string
	FileType  string
	Language  string
	Sentiment string
	Size      int
	From      int
}

type Hit struct {
	FileID     string              `json:"file_id"`
	Source     Document            `json:"source"`
	Score      float64             `json:"score"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

type Result struct {
	Total   int   `json:"total"`
	Results []Hit `json:"results"`
}

type Bucket struct {
	Key      string `json:"key"`
	DocCount int    `json:"doc_count"`
}

type Index struct {
	client *elasticsearch.Client
	name   string
}

func NewIndex(addresses []string, name string) (*Index, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("index name is required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Index{client: client, name: name}, nil
}

// Ensure creates the index with its mapping if it does not exist yet.
func (i *Index) Ensure(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.name},
		i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "check search index")
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return apperr.Newf(apperr.KindInfrastructure,
			"check search index: unexpected status %d", res.StatusCode)
	}

	created, err := i.client.Indices.Create(i.name,
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
		i.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "create search index")
	}
	defer created.Body.Close()
	if created.IsError() {
		return apperr.Newf(apperr.KindInfrastructure,
			"create search index: %s", responseError(created.StatusCode, created.Body))
	}
	return nil
}

// Upsert indexes the document under its file id, replacing any previous
// version of it.
func (i *Index) Upsert(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "encode search document")
	}

	res, err := i.client.Index(i.name, bytes.NewReader(body),
		i.client.Index.WithDocumentID(doc.FileID),
		i.client.Index.WithContext(ctx))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "index search document")
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.Newf(apperr.KindInfrastructure,
			"index search document: %s", responseError(res.StatusCode, res.Body))
	}
	return nil
}

func (i *Index) Search(ctx context.Context, q Query) (*Result, error) {
	size := q.Size
	if size <= 0 {
		size = 10
	}

	boolQuery := map[string]any{
		"must": []any{
			map[string]any{
				"multi_match": map[string]any{
					"query": q.Text,
					"fields": []string{
						"filename^2",
						"transcription_text",
						"translation_text",
						"summary_text",
						"objects_detected",
					},
				},
			},
		},
	}

	var filters []any
	if q.FileType != "" {
		filters = append(filters, termFilter("file_type", q.FileType))
	}
	if q.Language != "" {
		filters = append(filters, termFilter("language", q.Language))
	}
	if q.Sentiment != "" {
		filters = append(filters, termFilter("sentiment", q.Sentiment))
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
		"highlight": map[string]any{
			"fields": map[string]any{
				"transcription_text": map[string]any{},
				"translation_text":   map[string]any{},
				"summary_text":       map[string]any{},
			},
		},
	}
	if q.From > 0 {
		body["from"] = q.From
	}

	var decoded struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID        string              `json:"_id"`
				Score     float64             `json:"_score"`
				Source    Document            `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := i.search(ctx, body, &decoded); err != nil {
		return nil, err
	}

	ret := &Result{
		Total:   decoded.Hits.Total.Value,
		Results: make([]Hit, 0, len(decoded.Hits.Hits)),
	}
	for _, hit := range decoded.Hits.Hits {
		ret.Results = append(ret.Results, Hit{
			FileID:     hit.ID,
			Source:     hit.Source,
			Score:      hit.Score,
			Highlights: hit.Highlight,
		})
	}
	return ret, nil
}

// Aggregate returns the term buckets for one keyword field.
func (i *Index) Aggregate(ctx context.Context, field string) ([]Bucket, error) {
	aggName := field + "_stats"
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			aggName: map[string]any{
				"terms": map[string]any{
					"field": field,
					"size":  50,
				},
			},
		},
	}

	var decoded struct {
		Aggregations map[string]struct {
			Buckets []Bucket `json:"buckets"`
		} `json:"aggregations"`
	}
	if err := i.search(ctx, body, &decoded); err != nil {
		return nil, err
	}
	return decoded.Aggregations[aggName].Buckets, nil
}

// Ping reports whether the cluster answers at all, for health checks.
func (i *Index) Ping(ctx context.Context) error {
	res, err := i.client.Ping(i.client.Ping.WithContext(ctx))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "ping elasticsearch")
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.Newf(apperr.KindInfrastructure,
			"ping elasticsearch: unexpected status %d", res.StatusCode)
	}
	return nil
}

func (i *Index) search(ctx context.Context, body map[string]any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "encode search query")
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(&buf))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "search request")
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.Newf(apperr.KindInfrastructure,
			"search request: %s", responseError(res.StatusCode, res.Body))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "decode search response")
	}
	return nil
}

func termFilter(field string, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func responseError(status int, body io.Reader) string {
	detail, _ := io.ReadAll(io.LimitReader(body, 2048))
	if len(detail) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(detail)))
}
