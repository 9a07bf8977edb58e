package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_MockModel(t *testing.T) {
	m := NewMockModel("mock-1", "mock")
	m.AddResponse("ping", "pong")

	text, err := Collect(context.Background(), m, Request{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)

	text, err = Collect(context.Background(), m, Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", text)

	assert.Len(t, m.Requests(), 2)
	assert.Equal(t, Info{Name: "mock-1", Provider: "mock"}, m.Info())
}

func TestCollect_Failure(t *testing.T) {
	m := NewMockModel("mock-1", "mock")
	m.FailNext(errors.New("boom"))

	_, err := Collect(context.Background(), m, Request{Prompt: "ping"})
	assert.EqualError(t, err, "boom")

	_, err = Collect(context.Background(), m, Request{Prompt: "ping"})
	assert.NoError(t, err)
}

type partialModel struct{}

func (partialModel) Info() Info { return Info{} }

func (partialModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 3)
	errCh := make(chan error)
	out <- Response{Partial: true, Text: "a"}
	out <- Response{Partial: true, Text: "b"}
	out <- Response{FinishReason: "stop"}
	close(out)
	close(errCh)
	return out, errCh
}

func TestCollect_ConcatenatesPartials(t *testing.T) {
	text, err := Collect(context.Background(), partialModel{}, Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestCodeForStatus(t *testing.T) {
	tests := map[int]string{
		http.StatusTooManyRequests:     CodeRateLimit,
		http.StatusUnauthorized:        CodeAuthentication,
		http.StatusNotFound:            CodeModelNotFound,
		http.StatusGatewayTimeout:      CodeTimeout,
		http.StatusServiceUnavailable:  CodeUnavailable,
		http.StatusInternalServerError: CodeServerError,
		http.StatusBadRequest:          CodeInvalidRequest,
	}
	for status, code := range tests {
		assert.Equal(t, code, CodeForStatus(status), status)
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("upstream")
	pe := FromStatus("openai", http.StatusTooManyRequests, cause)

	assert.True(t, pe.Retryable)
	assert.True(t, pe.Transient())
	assert.ErrorIs(t, pe, cause)
	assert.Equal(t, "openai: rate_limit (status 429): upstream", pe.Error())

	wrapped := fmt.Errorf("call: %w", NewProviderError("gemini", CodeInvalidRequest, "bad", 400, nil))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("x", nil))
	assert.ErrorIs(t, Wrap("x", context.Canceled), context.Canceled)

	var pe *ProviderError
	require.ErrorAs(t, Wrap("x", errors.New("dial tcp")), &pe)
	assert.Equal(t, CodeUnavailable, pe.Code)
}
