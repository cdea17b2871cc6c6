package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Complete(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  ffmpeg -i input.mp4 -c:v libx265 output.mp4\n"}}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
	}, nil)

	answer, err := client.Complete(context.Background(), DefaultSystemPrompt, "compress this")
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg -i input.mp4 -c:v libx265 output.mp4", answer)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.InDelta(t, 0.3, captured.Temperature, 0.0001)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "You are a video processing expert."}, captured.Messages[0])
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "compress this", captured.Messages[1].Content)
}

func TestClient_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "bad", Model: "gpt-4o-mini"}, nil)

	_, err := client.Complete(context.Background(), DefaultSystemPrompt, "compress this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k", Model: "gpt-4o-mini"}, nil)

	_, err := client.Complete(context.Background(), DefaultSystemPrompt, "compress this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestClient_Complete_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k", Model: "gpt-4o-mini"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, DefaultSystemPrompt, "compress this")
	require.Error(t, err)
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{
			name: "plain base",
			base: "https://api.openai.com",
			want: "https://api.openai.com/v1/chat/completions",
		},
		{
			name: "trailing slash",
			base: "https://api.openai.com/",
			want: "https://api.openai.com/v1/chat/completions",
		},
		{
			name: "base already versioned",
			base: "http://localhost:1234/v1",
			want: "http://localhost:1234/v1/chat/completions",
		},
		{
			name: "schemeless defaults to https",
			base: "api.example.com",
			want: "https://api.example.com/v1/chat/completions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointURL(tt.base))
		})
	}
}
