// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the orchestration engine.
//
// Supports TOML configuration with sensible defaults and environment
// variable overrides. The host application decides where the file lives;
// Load falls back to built-in defaults when the path is empty or missing.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config holds all tunables for the orchestration engine.
type Config struct {
	// Providers holds base URLs for the hosted and local backends.
	Providers ProviderConfig `toml:"providers"`

	// Web holds limits for the web agent's page fetch.
	Web WebConfig `toml:"web"`

	// Budget holds token-budget defaults for truncation.
	Budget BudgetConfig `toml:"budget"`

	// Retrieval holds the vector-service endpoint.
	Retrieval RetrievalConfig `toml:"retrieval"`
}

// ProviderConfig contains backend endpoints and timeouts.
type ProviderConfig struct {
	// OpenRouterURL is the OpenRouter API base URL.
	OpenRouterURL string `toml:"openrouter_url"`
	// DeepSeekURL is the DeepSeek API base URL.
	DeepSeekURL string `toml:"deepseek_url"`
	// XAIURL is the xAI API base URL.
	XAIURL string `toml:"xai_url"`
	// AnthropicURL is the Anthropic API base URL.
	AnthropicURL string `toml:"anthropic_url"`
	// OllamaURL is the local Ollama daemon URL.
	// Uses the explicit IPv4 address to avoid IPv6 resolution issues on Windows.
	OllamaURL string `toml:"ollama_url"`
	// LocalDaemonURL is the local inference daemon URL.
	LocalDaemonURL string `toml:"local_daemon_url"`

	// RequestTimeout bounds non-streaming calls (title generation,
	// classification) and the wait for response headers on streaming
	// calls. Stream body reads are bounded by the request context only.
	RequestTimeout time.Duration `toml:"request_timeout"`

	// LocalStartupWait is how long to tolerate the local daemon being
	// unreachable while it loads a model before treating it as down.
	LocalStartupWait time.Duration `toml:"local_startup_wait"`
}

// WebConfig contains limits for web agent fetches.
type WebConfig struct {
	// FetchTimeout bounds the whole page fetch.
	FetchTimeout time.Duration `toml:"fetch_timeout"`
	// MaxResponseSize caps the page body read, in bytes.
	MaxResponseSize int64 `toml:"max_response_size"`
	// MaxRedirects caps redirect chains.
	MaxRedirects int `toml:"max_redirects"`
	// MaxTextChars caps the extracted visible text.
	MaxTextChars int `toml:"max_text_chars"`
	// UserAgent is sent with page fetches.
	UserAgent string `toml:"user_agent"`
}

// BudgetConfig contains token-budget defaults.
type BudgetConfig struct {
	// MaxTotalTokens is the assumed context window when a model does not
	// declare one.
	MaxTotalTokens int `toml:"max_total_tokens"`
}

// RetrievalConfig contains the vector-service endpoint.
type RetrievalConfig struct {
	// BaseURL is the local vector service base URL.
	BaseURL string `toml:"base_url"`
	// QueryTimeout bounds a single retrieval query.
	QueryTimeout time.Duration `toml:"query_timeout"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Providers: ProviderConfig{
			OpenRouterURL:    "https://openrouter.ai/api/v1",
			DeepSeekURL:      "https://api.deepseek.com",
			XAIURL:           "https://api.x.ai/v1",
			AnthropicURL:     "https://api.anthropic.com/v1",
			OllamaURL:        "http://127.0.0.1:11434",
			LocalDaemonURL:   "http://127.0.0.1:47372",
			RequestTimeout:   60 * time.Second,
			LocalStartupWait: 2 * time.Minute,
		},
		Web: WebConfig{
			FetchTimeout:    30 * time.Second,
			MaxResponseSize: 5 * 1024 * 1024,
			MaxRedirects:    5,
			MaxTextChars:    2000,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		},
		Budget: BudgetConfig{
			MaxTotalTokens: 4096,
		},
		Retrieval: RetrievalConfig{
			BaseURL:      "http://127.0.0.1:47372",
			QueryTimeout: 30 * time.Second,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, layering it over the defaults and then
// applying environment overrides. An empty path or a missing file yields the
// defaults (plus env overrides); a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays NOTATE_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOTATE_OLLAMA_URL"); v != "" {
		cfg.Providers.OllamaURL = v
	}
	if v := os.Getenv("NOTATE_LOCAL_DAEMON_URL"); v != "" {
		cfg.Providers.LocalDaemonURL = v
	}
	if v := os.Getenv("NOTATE_RETRIEVAL_URL"); v != "" {
		cfg.Retrieval.BaseURL = v
	}
	if v := os.Getenv("NOTATE_MAX_TOTAL_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Budget.MaxTotalTokens = n
		}
	}
}

// Validate checks that configured endpoints are well-formed URLs.
func (c *Config) Validate() error {
	endpoints := map[string]string{
		"openrouter_url":     c.Providers.OpenRouterURL,
		"deepseek_url":       c.Providers.DeepSeekURL,
		"xai_url":            c.Providers.XAIURL,
		"anthropic_url":      c.Providers.AnthropicURL,
		"ollama_url":         c.Providers.OllamaURL,
		"local_daemon_url":   c.Providers.LocalDaemonURL,
		"retrieval.base_url": c.Retrieval.BaseURL,
	}
	for name, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}
	if c.Budget.MaxTotalTokens <= 0 {
		return fmt.Errorf("budget.max_total_tokens must be positive, got %d", c.Budget.MaxTotalTokens)
	}
	return nil
}
