// Package ratelimit implements fixed-window request limits per scope and
// owner.
package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scope caps the number of requests one owner may make per window.
type Scope struct {
	MaxRequests int   `yaml:"maxRequests" json:"maxRequests"`
	WindowMs    int64 `yaml:"windowMs" json:"windowMs"`
}

// Window returns the window length.
func (s Scope) Window() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}

// Scopes maps a scope name to its limit.
type Scopes map[string]Scope

// Scope names used by the API.
const (
	ScopeChat    = "chat"
	ScopeExplore = "explore"
	ScopeTitle   = "title"
)

// DefaultScopes returns the built-in limits.
func DefaultScopes() Scopes {
	return Scopes{
		ScopeChat:    {MaxRequests: 20, WindowMs: 60_000},
		ScopeExplore: {MaxRequests: 10, WindowMs: 60_000},
		ScopeTitle:   {MaxRequests: 30, WindowMs: 60_000},
	}
}

// LoadScopes reads scope overrides from a YAML file and merges them over the
// defaults. An empty path yields the defaults.
func LoadScopes(path string) (Scopes, error) {
	if path == "" {
		return DefaultScopes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit file: %w", err)
	}
	return ParseScopes(data)
}

// ParseScopes decodes YAML of the form
//
//	chat:
//	  maxRequests: 20
//	  windowMs: 60000
//
// and merges it over the defaults.
func ParseScopes(data []byte) (Scopes, error) {
	var overrides Scopes
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("decode rate limit scopes: %w", err)
	}

	scopes := DefaultScopes()
	for name, s := range overrides {
		if s.MaxRequests <= 0 || s.WindowMs <= 0 {
			return nil, fmt.Errorf("rate limit scope %q: maxRequests and windowMs must be positive", name)
		}
		scopes[name] = s
	}
	return scopes, nil
}
