// Package gemini provides a model.Model for the Google Gemini
// generateContent REST API. There is no official SDK dependency; requests
// are plain JSON over net/http.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentcouncil/model"
)

const provider = "gemini"

const (
	// DefaultBaseURL is the public Generative Language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultAPIVersion is the API version path segment.
	DefaultAPIVersion = "v1beta"
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "gemini-2.0-flash"
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 120 * time.Second
)

// HTTPClient is the subset of *http.Client used by the adapter.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configure the Gemini model adapter.
type Options struct {
	Model       string
	APIKey      string
	BaseURL     string
	APIVersion  string
	Temperature float64
	MaxTokens   int64
	Client      HTTPClient
}

// Model calls the Gemini generateContent endpoint.
type Model struct {
	opts Options
}

// NewModel creates a Gemini model.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       DefaultModel,
		BaseURL:     DefaultBaseURL,
		APIVersion:  DefaultAPIVersion,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultTimeout}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Model{opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := m.complete(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		out <- *resp
	}()
	return out, errCh
}

func (m *Model) complete(ctx context.Context, req model.Request) (*model.Response, error) {
	body, err := json.Marshal(m.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", m.opts.BaseURL, m.opts.APIVersion, m.opts.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", m.opts.APIKey)

	httpResp, err := m.opts.Client.Do(httpReq)
	if err != nil {
		return nil, model.Wrap(provider, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(httpResp.Body)
		return nil, parseAPIError(httpResp.StatusCode, raw)
	}

	var apiResp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&apiResp); err != nil {
		return nil, model.NewProviderError(provider, model.CodeServerError, "decode response: "+err.Error(), httpResp.StatusCode, err)
	}

	if apiResp.PromptFeedback != nil && apiResp.PromptFeedback.BlockReason != "" {
		return nil, model.NewProviderError(provider, model.CodeContentFilter, "prompt blocked: "+apiResp.PromptFeedback.BlockReason, 0, nil)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, model.NewProviderError(provider, model.CodeEmptyResponse, "no candidates returned", 0, nil)
	}

	cand := apiResp.Candidates[0]
	finish := mapFinishReason(cand.FinishReason)
	if finish == "content_filter" {
		return nil, model.NewProviderError(provider, model.CodeContentFilter, "candidate blocked: "+cand.FinishReason, 0, nil)
	}

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return nil, model.NewProviderError(provider, model.CodeEmptyResponse, "candidate contained no text", 0, nil)
	}

	resp := &model.Response{Text: text.String(), FinishReason: finish}
	if u := apiResp.UsageMetadata; u != nil {
		resp.Usage = &model.TokenUsage{
			PromptTokens:     u.PromptTokenCount,
			CompletionTokens: u.CandidatesTokenCount,
			TotalTokens:      u.PromptTokenCount + u.CandidatesTokenCount,
		}
	}
	return resp, nil
}

func (m *Model) buildRequest(req model.Request) generateRequest {
	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	apiReq := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     m.opts.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if req.System != "" {
		apiReq.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.JSON {
		apiReq.GenerationConfig.ResponseMimeType = "application/json"
	}
	return apiReq
}

// parseAPIError converts an error body to a model.ProviderError.
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	msg := strings.TrimSpace(string(body))
	code := model.CodeForStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
		if errResp.Error.Status == "RESOURCE_EXHAUSTED" {
			code = model.CodeRateLimit
		}
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return model.NewProviderError(provider, code, msg, statusCode, nil)
}

// mapFinishReason maps Gemini finish reasons to standard reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	case "":
		return "stop"
	default:
		return strings.ToLower(reason)
	}
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: provider}
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int64   `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate    `json:"candidates,omitempty"`
	UsageMetadata  *usageMetadata `json:"usageMetadata,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
}
