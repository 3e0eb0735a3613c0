package analysis

import (
	"fmt"
)

// Config holds the configuration for the inference API client
//
// Environment Variables:
// - INFERENCE_API_URL: Base URL of the inference service (required)
// - INFERENCE_API_KEY: Bearer token, optional for unauthenticated deployments
// - INFERENCE_TIMEOUT: Request timeout in seconds (default: 120)
type Config struct {
	APIURL  string `json:"api_url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for inference API requests
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	return headers
}
