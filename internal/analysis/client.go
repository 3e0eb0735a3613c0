package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
)

// Client talks to the external inference service that runs the actual
// models. One request per task, plain request/response, no streaming.
// Media is referenced by path on storage shared with the inference workers.
// Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}

	return client, nil
}

type transcribeRequest struct {
	FileID    string `json:"file_id"`
	MediaPath string `json:"media_path"`
}

type textRequest struct {
	FileID string `json:"file_id"`
	Text   string `json:"text"`
}

type detectObjectsRequest struct {
	FileID    string `json:"file_id"`
	MediaPath string `json:"media_path"`
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// Transcribe converts the audio track at mediaPath to text.
func (c *Client) Transcribe(ctx context.Context, fileID string, mediaPath string) (task.TranscriptionResult, error) {
	var ret task.TranscriptionResult
	err := c.makeRequest(ctx, http.MethodPost, "/v1/transcribe", transcribeRequest{
		FileID:    fileID,
		MediaPath: mediaPath,
	}, &ret)
	return ret, err
}

// Summarize produces an abstractive summary of text.
func (c *Client) Summarize(ctx context.Context, fileID string, text string) (task.SummaryResult, error) {
	var ret task.SummaryResult
	err := c.makeRequest(ctx, http.MethodPost, "/v1/summarize", textRequest{
		FileID: fileID,
		Text:   text,
	}, &ret)
	return ret, err
}

// AnalyzeSentiment classifies the overall sentiment of text.
func (c *Client) AnalyzeSentiment(ctx context.Context, fileID string, text string) (task.SentimentResult, error) {
	var ret task.SentimentResult
	err := c.makeRequest(ctx, http.MethodPost, "/v1/sentiment", textRequest{
		FileID: fileID,
		Text:   text,
	}, &ret)
	return ret, err
}

// DetectObjects labels objects in sampled video frames.
func (c *Client) DetectObjects(ctx context.Context, fileID string, mediaPath string) (task.ObjectDetectionResult, error) {
	var ret task.ObjectDetectionResult
	err := c.makeRequest(ctx, http.MethodPost, "/v1/detect-objects", detectObjectsRequest{
		FileID:    fileID,
		MediaPath: mediaPath,
	}, &ret)
	return ret, err
}

// Translate renders text into the target language.
func (c *Client) Translate(ctx context.Context, text string, sourceLanguage string, targetLanguage string) (string, error) {
	var ret translateResponse
	err := c.makeRequest(ctx, http.MethodPost, "/v1/translate", translateRequest{
		Text:           text,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
	}, &ret)
	return ret.TranslatedText, err
}

// makeRequest makes a raw HTTP request to the inference API and decodes the
// response body into out.
func (c *Client) makeRequest(ctx context.Context, method, path string, payload any, out any) error {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("inference request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
