package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"no scheme", "api.openai.com/v1", "https://api.openai.com/v1"},
		{"http", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"https", "https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"trailing slash", "https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{"with port", "localhost:8080", "https://localhost:8080"},
		{"whitespace", "  https://api.openai.com/v1  ", "https://api.openai.com/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeBaseURL(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		path     string
		expected string
	}{
		{"empty base", "", "/path", "/path"},
		{"with leading slash", "https://api.openai.com/v1", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"without leading slash", "https://api.openai.com/v1", "chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"base with trailing slash", "https://api.openai.com/v1/", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := JoinPath(tt.baseURL, tt.path)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://api.openai.com/v1", false},
		{"http", "http://localhost:11434/v1", false},
		{"schemeless gets https", "api.openai.com/v1", false},
		{"empty", "", true},
		{"file scheme", "file:///etc/prompt.txt", true},
		{"no host", "https:///v1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
