// Package genai wraps the completion API used for facet extraction and
// recommendation judging.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"restaurant-recommender/internal/common/config"
	"restaurant-recommender/internal/common/jsonx"
)

var (
	ErrCompletionFailed  = errors.New("COMPLETION_FAILED")
	ErrCompletionTimeout = errors.New("ORACLE_TIMEOUT")
)

// KeywordKind selects the extraction instruction for ExtractKeywords.
type KeywordKind string

const (
	KindMenu    KeywordKind = "menu"
	KindContext KeywordKind = "context"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Client issues completion requests against the GenAI service.
type Client struct {
	config     config.GenAIConfig
	client     *http.Client
	maxRetries int
	logger     Logger
}

func NewClient(cfg config.GenAIConfig, maxRetries int, log Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	return &Client{
		config:     cfg,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger: log.With(map[string]interface{}{
			"component": "genai",
		}),
	}
}

const menuKeywordPrompt = `Extract the food or menu keywords the user is asking for from the sentence below.
Split into the shortest useful units and drop filler words. If no menu is mentioned, return an empty list.
Examples: "spicy food" -> "spicy", "sushi place" -> "sushi", "coffee shop" -> "cafe"
------------------------------
Sentence: %s
------------------------------
Answer format: {"keywords": ["noodles", "dumplings", "chinese"]}`

const contextKeywordPrompt = `Extract every mood, purpose, situation, or preference the user considers when choosing a restaurant from the sentence below.
Exclude food types and place names. Focus on atmosphere, environment, and intent (e.g. solo dining, date night, good value, team dinner) in short units.
If nothing applies, return an empty list.
------------------------------
Sentence: %s
------------------------------
Answer format: {"keywords": ["solo dining", "quiet", "casual drinks"]}`

const locationPrompt = `Extract only the place name (e.g. a district, building, or station) from the sentence below.
Do not explain, answer with the place name only. If there is no place or area name, return an empty string.
Sentence: %s`

// ExtractKeywords runs a keyword extraction completion and lenient-parses
// the first JSON object out of the response text. Parse failures return an
// empty list rather than an error; only transport failures propagate.
func (c *Client) ExtractKeywords(ctx context.Context, text string, kind KeywordKind) ([]string, error) {
	template := menuKeywordPrompt
	if kind == KindContext {
		template = contextKeywordPrompt
	}

	raw, err := c.Complete(ctx, fmt.Sprintf(template, text))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Keywords []string `json:"keywords"`
	}
	if err := jsonx.ExtractObject(raw, &parsed); err != nil {
		c.logger.Warn("keyword response not parseable, using empty list", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return []string{}, nil
	}

	return parsed.Keywords, nil
}

// ExtractLocation returns the trimmed place name from the user text, or an
// empty string when the model found none.
func (c *Client) ExtractLocation(ctx context.Context, text string) (string, error) {
	raw, err := c.Complete(ctx, fmt.Sprintf(locationPrompt, text))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// Complete sends one completion request and returns the raw response text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  c.config.MaxTokens,
		"temperature": c.config.Temperature,
	}
	body, _ := json.Marshal(requestBody)

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {

		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ErrCompletionTimeout
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/api/ai/complete", bytes.NewBuffer(body))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, lastErr = c.client.Do(req)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {

			return "", ErrCompletionTimeout
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrCompletionTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrCompletionFailed, lastErr)
	}

	if resp == nil {
		return "", fmt.Errorf("%w: no successful response after retries", ErrCompletionFailed)
	}
	defer resp.Body.Close()

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrCompletionFailed, err)
	}

	return apiResponse.Text, nil
}
