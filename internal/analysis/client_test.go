package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

func TestNewClient(t *testing.T) {
	config := &Config{
		APIURL:  "https://inference.example.com",
		APIKey:  "test-key",
		Timeout: 30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, config.APIURL, client.baseURL)
	assert.NotNil(t, client.httpClient)

	// Test with invalid config
	invalidConfig := &Config{Timeout: 30} // Missing API URL
	_, err = NewClient(invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transcribe", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req transcribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "file-1", req.FileID)
		assert.Equal(t, "/uploads/file-1.mp3", req.MediaPath)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "hello world",
			"language": "en",
			"segments": [{"start": 0, "end": 1.5, "text": "hello world"}]
		}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{APIURL: server.URL, APIKey: "test-key", Timeout: 5})
	require.NoError(t, err)

	result, err := client.Transcribe(context.Background(), "file-1", "/uploads/file-1.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, 1.5, result.Segments[0].End)
}

func TestClient_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/translate", r.URL.Path)

		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hola", req.Text)
		assert.Equal(t, "es", req.SourceLanguage)
		assert.Equal(t, "fr", req.TargetLanguage)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translated_text": "bonjour"}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{APIURL: server.URL, Timeout: 5})
	require.NoError(t, err)

	translated, err := client.Translate(context.Background(), "hola", "es", "fr")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", translated)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "model crashed"}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{APIURL: server.URL, Timeout: 5})
	require.NoError(t, err)

	_, err = client.Summarize(context.Background(), "file-1", "some text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model crashed")
}

func TestClient_NoAuthHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"overall": "positive", "scores": {"positive": 0.9}}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{APIURL: server.URL, Timeout: 5})
	require.NoError(t, err)

	result, err := client.AnalyzeSentiment(context.Background(), "file-1", "great stuff")
	require.NoError(t, err)
	assert.Equal(t, "positive", result.Overall)
}

func TestNewRegistry_WiresEveryTaskType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/transcribe":
			var req transcribeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			// Video sources transcribe from the extracted audio track.
			assert.Equal(t, "/uploads/file-1.mp3", req.MediaPath)
			_, _ = w.Write([]byte(`{"text": "t", "language": "en"}`))
		case "/v1/summarize":
			_, _ = w.Write([]byte(`{"summary": "s"}`))
		case "/v1/sentiment":
			_, _ = w.Write([]byte(`{"overall": "neutral"}`))
		case "/v1/detect-objects":
			var req detectObjectsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			// Object detection reads the original video, not the audio track.
			assert.Equal(t, "/uploads/file-1.mp4", req.MediaPath)
			_, _ = w.Write([]byte(`{"objects": [{"label": "cat", "confidence": 0.9, "timestamp": 2}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(&Config{APIURL: server.URL, Timeout: 5})
	require.NoError(t, err)
	registry := NewRegistry(client)

	req := Request{
		FileID:    "file-1",
		MediaPath: "/uploads/file-1.mp4",
		AudioPath: "/uploads/file-1.mp3",
	}

	for _, taskType := range task.All {
		capability, ok := registry.Resolve(taskType)
		require.True(t, ok, "no capability for %s", taskType)

		raw, err := capability.Run(context.Background(), req)
		require.NoError(t, err, "capability %s", taskType)
		assert.True(t, json.Valid(raw))
	}

	raw, err := registry[task.ObjectDetection].Run(context.Background(), req)
	require.NoError(t, err)
	var detection task.ObjectDetectionResult
	require.NoError(t, json.Unmarshal(raw, &detection))
	assert.Equal(t, []string{"cat"}, detection.Labels())
}
