package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the chat completions API of OpenAI and compatible
// gateways.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	if len(msgs) == 0 {
		return nil, errors.New("openai: messages must not be empty")
	}
	reqBody := openAIRequest{Model: c.model, Messages: msgs}
	if options != nil {
		reqBody.Temperature = options.Temperature
		reqBody.MaxTokens = options.MaxTokens
	}

	var oaiResp openAIResponse
	if err := c.post(ctx, "/chat/completions", reqBody, &oaiResp); err != nil {
		return nil, err
	}
	if len(oaiResp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}
	choice := oaiResp.Choices[0]
	return &Response{Content: choice.Message.Content, FinishReason: choice.FinishReason}, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body, out any) error {
	return postJSON(ctx, c.client, c.baseURL+path, c.apiKey, body, out)
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Provider: "openai", StatusCode: resp.StatusCode}
		var oaiErr openAIError
		if json.Unmarshal(respBody, &oaiErr) == nil {
			serr.Message = oaiErr.Error.Message
		}
		return serr
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}
