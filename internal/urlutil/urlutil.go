// Package urlutil provides URL manipulation utilities.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeBaseURL normalizes a base URL for consistent use:
//   - Adds https:// scheme if no scheme provided
//   - Removes trailing slash for clean path joining
//
// Examples:
//
//	"api.openai.com/v1"          -> "https://api.openai.com/v1"
//	"https://api.openai.com/v1/" -> "https://api.openai.com/v1"
//	"http://localhost:11434/v1"  -> "http://localhost:11434/v1"
func NormalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}

	// Trim whitespace
	baseURL = strings.TrimSpace(baseURL)

	// API endpoints default to TLS
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	// Remove trailing slash for clean path joining
	baseURL = strings.TrimSuffix(baseURL, "/")

	return baseURL
}

// JoinPath joins a base URL with a path, ensuring single slashes.
// The path should start with / for absolute paths.
func JoinPath(baseURL, path string) string {
	if baseURL == "" {
		return path
	}

	// Normalize base URL
	baseURL = strings.TrimSuffix(baseURL, "/")

	// Ensure path starts with /
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return baseURL + path
}

// ValidateBaseURL checks that a base URL parses and uses http or https.
// Schemeless values are validated as if NormalizeBaseURL had been applied.
// Returns nil if valid, or an error describing the problem.
func ValidateBaseURL(u string) error {
	u = strings.TrimSpace(u)
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	// Only prepend a scheme when none is present; "file://..." must not
	// become "https://file://...".
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https)", scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
