// Package openai implements pkg/oracle's Perplexity client against an
// OpenAI-compatible completions endpoint with logprob echo. Perplexity is
// computed as exp(-mean(token logprobs)) over the echoed prompt tokens.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/papercomputeco/engram/pkg/oracle"
)

const (
	// DefaultModel is the default completion model used for scoring.
	DefaultModel = "gpt-3.5-turbo-instruct"

	// DefaultBaseURL is the default OpenAI-compatible API URL.
	DefaultBaseURL = "https://api.openai.com"
)

// Oracle wraps an OpenAI-compatible completions API for perplexity scoring.
type Oracle struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for the perplexity oracle.
type Config struct {
	// BaseURL is the API URL. Defaults to DefaultBaseURL if empty.
	// Point this at any server speaking the completions wire format
	// (vLLM, llama.cpp server, text-generation-inference).
	BaseURL string

	// Model is the completion model. Defaults to DefaultModel if empty.
	Model string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string
}

// completionRequest asks the endpoint to echo the prompt with logprobs and
// generate nothing, which returns per-token logprobs for the input text.
type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Echo      bool   `json:"echo"`
	Logprobs  int    `json:"logprobs"`
}

type completionResponse struct {
	Choices []struct {
		Logprobs struct {
			// TokenLogprobs uses pointers: the first echoed token has
			// no conditioning context and comes back as null.
			TokenLogprobs []*float64 `json:"token_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
}

// New creates a perplexity oracle against an OpenAI-compatible endpoint.
func New(cfg Config) (*Oracle, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Oracle{
		baseURL:    baseURL,
		model:      model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
	}, nil
}

// Score returns the perplexity of the text, always >= 1.
func (o *Oracle) Score(ctx context.Context, text string) (float64, error) {
	reqBody := completionRequest{
		Model:    o.model,
		Prompt:   text,
		Echo:     true,
		Logprobs: 0,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("%w: marshaling request: %v", oracle.ErrPerplexity, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/v1/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return 0, fmt.Errorf("%w: creating request: %v", oracle.ErrPerplexity, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: sending request: %v", oracle.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%w: completions endpoint returned status %d: %s", oracle.ErrUnavailable, resp.StatusCode, string(body))
	}

	var compResp completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&compResp); err != nil {
		return 0, fmt.Errorf("%w: decoding response: %v", oracle.ErrPerplexity, err)
	}

	if len(compResp.Choices) == 0 {
		return 0, fmt.Errorf("%w: no choices returned", oracle.ErrPerplexity)
	}

	return perplexityFromLogprobs(compResp.Choices[0].Logprobs.TokenLogprobs)
}

// perplexityFromLogprobs computes exp(-mean logprob), skipping null entries.
func perplexityFromLogprobs(logprobs []*float64) (float64, error) {
	var sum float64
	var n int
	for _, lp := range logprobs {
		if lp == nil {
			continue
		}
		sum += *lp
		n++
	}

	if n == 0 {
		return 0, fmt.Errorf("%w: no token logprobs returned", oracle.ErrPerplexity)
	}

	ppl := math.Exp(-sum / float64(n))
	if ppl < 1 {
		ppl = 1
	}
	return ppl, nil
}

// Close releases resources held by the oracle.
func (o *Oracle) Close() error {
	return nil
}

// Ensure Oracle implements oracle.Perplexity
var _ oracle.Perplexity = (*Oracle)(nil)
