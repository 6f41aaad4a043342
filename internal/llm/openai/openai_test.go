package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/llm"
)

var testTool = llm.Tool{
	Name:        "report",
	Description: "Report a thing",
	Schema:      json.RawMessage(`{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"]}`),
}

func TestGenerateForcesToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Tools []struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
			ToolChoice struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tool_choice"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "be terse", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "report", body.Tools[0].Function.Name)
		assert.Equal(t, "function", body.ToolChoice.Type)
		assert.Equal(t, "report", body.ToolChoice.Function.Name)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls",
			"message":{"role":"assistant","tool_calls":[{"id":"c1","type":"function",
			"function":{"name":"report","arguments":"{\"ok\":true}"}}]}}]}`))
	}))
	defer srv.Close()

	g := newGenerator(Config{BaseURL: srv.URL, Model: "test-model"}, "k", nil)
	out, err := g.Generate(context.Background(), llm.Request{System: "be terse", User: "hello", Tool: testTool})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestGenerateTruncatedArgumentsPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"finish_reason":"length",
			"message":{"role":"assistant","tool_calls":[{"id":"c1","type":"function",
			"function":{"name":"report","arguments":"{\"ok\":true"}}]}}]}`))
	}))
	defer srv.Close()

	g := newGenerator(Config{BaseURL: srv.URL}, "k", nil)
	out, err := g.Generate(context.Background(), llm.Request{Tool: testTool})
	require.NoError(t, err)

	var v struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, llm.Decode(out, &v))
	assert.True(t, v.OK)
}

func TestGenerateMapsStatus(t *testing.T) {
	for status, kind := range map[int]apperr.Kind{
		http.StatusTooManyRequests: apperr.KindRateLimited,
		http.StatusPaymentRequired: apperr.KindQuotaExhausted,
		http.StatusBadGateway:      apperr.KindUpstream,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		g := newGenerator(Config{BaseURL: srv.URL}, "k", nil)
		_, err := g.Generate(context.Background(), llm.Request{Tool: testTool})
		assert.Equal(t, kind, apperr.KindOf(err), "status %d", status)
		srv.Close()
	}
}

func TestGenerateNoStructuredOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant"}}]}`))
	}))
	defer srv.Close()

	g := newGenerator(Config{BaseURL: srv.URL}, "k", nil)
	_, err := g.Generate(context.Background(), llm.Request{Tool: testTool})
	assert.Equal(t, apperr.KindMalformed, apperr.KindOf(err))
}
