// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Providers.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("OllamaURL = %q", cfg.Providers.OllamaURL)
	}
	if cfg.Providers.LocalDaemonURL != "http://127.0.0.1:47372" {
		t.Errorf("LocalDaemonURL = %q", cfg.Providers.LocalDaemonURL)
	}
	if cfg.Web.MaxTextChars != 2000 {
		t.Errorf("MaxTextChars = %d, want 2000", cfg.Web.MaxTextChars)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if cfg.Budget.MaxTotalTokens != 4096 {
		t.Errorf("MaxTotalTokens = %d, want default 4096", cfg.Budget.MaxTotalTokens)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[providers]
ollama_url = "http://127.0.0.1:9999"
local_startup_wait = "30s"

[budget]
max_total_tokens = 8192
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Providers.OllamaURL != "http://127.0.0.1:9999" {
		t.Errorf("OllamaURL = %q", cfg.Providers.OllamaURL)
	}
	if cfg.Providers.LocalStartupWait != 30*time.Second {
		t.Errorf("LocalStartupWait = %v, want 30s", cfg.Providers.LocalStartupWait)
	}
	if cfg.Budget.MaxTotalTokens != 8192 {
		t.Errorf("MaxTotalTokens = %d, want 8192", cfg.Budget.MaxTotalTokens)
	}
	// Untouched sections keep defaults.
	if cfg.Providers.DeepSeekURL != "https://api.deepseek.com" {
		t.Errorf("DeepSeekURL = %q", cfg.Providers.DeepSeekURL)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load malformed file: expected error")
	}
}

func TestValidateRejectsBadEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Providers.OllamaURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad ollama_url")
	}

	cfg = Default()
	cfg.Budget.MaxTotalTokens = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero token budget")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NOTATE_OLLAMA_URL", "http://127.0.0.1:7777")
	t.Setenv("NOTATE_MAX_TOTAL_TOKENS", "2048")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.OllamaURL != "http://127.0.0.1:7777" {
		t.Errorf("OllamaURL = %q", cfg.Providers.OllamaURL)
	}
	if cfg.Budget.MaxTotalTokens != 2048 {
		t.Errorf("MaxTotalTokens = %d, want 2048", cfg.Budget.MaxTotalTokens)
	}
}
