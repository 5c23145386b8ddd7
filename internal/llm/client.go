// Package llm wraps the Gemini API behind a single-call interface so the
// analyzer and tests can swap in fakes.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Request is one generation call. System and User are already fully
// rendered prompts; the caller owns templating.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// CallFunc performs one generation attempt and returns the raw model text.
type CallFunc func(ctx context.Context, req Request) (string, error)

// Client talks to the Gemini API.
type Client struct {
	client *genai.Client
}

// NewClient creates a Gemini client. The API key is required.
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{client: client}, nil
}

// Generate performs a single generation call and returns the model text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := c.client.Models.GenerateContent(ctx,
		req.Model,
		genai.Text(req.User),
		config,
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return text, nil
}
