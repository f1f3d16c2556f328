// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/config"
	"github.com/digo9606/Notate-sub000/provider"
)

// =============================================================================
// DECISION PARSING
// =============================================================================

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantOK   bool
		wantURL  string
	}{
		{"plain positive", `{"webUrl":1,"url":"https://example.com"}`, true, "https://example.com"},
		{"plain negative", `{"webUrl":0,"url":""}`, true, ""},
		{"fenced json", "```json\n{\"webUrl\":1,\"url\":\"https://example.com\"}\n```", true, "https://example.com"},
		{"surrounding whitespace", "  \n{\"webUrl\":0,\"url\":\"\"}\n  ", true, ""},
		{"prose answer", "I think you should visit example.com", false, ""},
		{"wrong flag value", `{"webUrl":2,"url":"https://example.com"}`, false, ""},
		{"positive without url", `{"webUrl":1,"url":""}`, false, ""},
		{"empty response", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := parseDecision(tt.response)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && d.URL != tt.wantURL {
				t.Errorf("url = %q, want %q", d.URL, tt.wantURL)
			}
		})
	}
}

// =============================================================================
// AGENT DEGRADATION
// =============================================================================

// completerAdapter scripts the classification response.
type completerAdapter struct {
	response string
	err      error
}

func (c *completerAdapter) Name() string                        { return "scripted" }
func (c *completerAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (c *completerAdapter) Stream(context.Context, provider.ChatInput, provider.ChunkSink) (*chat.ProviderResult, error) {
	return nil, errors.New("not used")
}
func (c *completerAdapter) GenerateTitle(context.Context, int64, chat.Settings, string) (string, error) {
	return "", errors.New("not used")
}
func (c *completerAdapter) Complete(context.Context, provider.ChatInput) (string, error) {
	return c.response, c.err
}

// bareAdapter has no completion support at all.
type bareAdapter struct{}

func (b *bareAdapter) Name() string                        { return "bare" }
func (b *bareAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (b *bareAdapter) Stream(context.Context, provider.ChatInput, provider.ChunkSink) (*chat.ProviderResult, error) {
	return nil, errors.New("not used")
}
func (b *bareAdapter) GenerateTitle(context.Context, int64, chat.Settings, string) (string, error) {
	return "", errors.New("not used")
}

func TestRunSkipsNonCompleter(t *testing.T) {
	a := newTestAgent()
	out := a.Run(context.Background(), &bareAdapter{}, 1, history(), chat.Settings{})
	if out.Web != nil {
		t.Error("adapter without completion support must skip the agent")
	}
}

func newTestAgent() *Agent {
	return New(NewFetcher(config.Default().Web), nil)
}

func history() []chat.Message {
	return []chat.Message{chat.NewUserMessage("what is on example.com?")}
}

func TestRunMalformedDecisionDegrades(t *testing.T) {
	a := newTestAgent()
	out := a.Run(context.Background(), &completerAdapter{response: "not json at all"}, 1, history(), chat.Settings{})
	if out.Web != nil {
		t.Error("malformed decision must not produce a web result")
	}
	if !strings.Contains(out.Rationale, "No web search") {
		t.Errorf("rationale = %q", out.Rationale)
	}
}

func TestRunClassifierErrorDegrades(t *testing.T) {
	a := newTestAgent()
	out := a.Run(context.Background(), &completerAdapter{err: errors.New("boom")}, 1, history(), chat.Settings{})
	if out.Web != nil {
		t.Error("classifier failure must not produce a web result")
	}
}

func TestRunNegativeDecision(t *testing.T) {
	a := newTestAgent()
	out := a.Run(context.Background(), &completerAdapter{response: `{"webUrl":0,"url":""}`}, 1, history(), chat.Settings{})
	if out.Web != nil {
		t.Error("negative decision must not fetch")
	}
}

func TestRunFetchFailureReportsURL(t *testing.T) {
	a := newTestAgent()
	// Blocked host: the fetch fails before any network traffic.
	out := a.Run(context.Background(), &completerAdapter{response: `{"webUrl":1,"url":"http://localhost/admin"}`}, 1, history(), chat.Settings{})
	if out.Web != nil {
		t.Error("blocked fetch must not produce a web result")
	}
	if !strings.Contains(out.Rationale, "Failed to visit website") {
		t.Errorf("rationale = %q", out.Rationale)
	}
}

// =============================================================================
// URL VALIDATION
// =============================================================================

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://example.com/page", nil},
		{"http://example.com", nil},
		{"ftp://example.com", ErrInvalidScheme},
		{"https://localhost:8080", ErrBlockedHost},
		{"https://metadata.google.internal/computeMetadata", ErrBlockedHost},
		{"https://169.254.169.254/latest/meta-data", ErrBlockedHost},
		{"https://127.0.0.1", ErrBlockedIP},
		{"https://10.1.2.3", ErrBlockedIP},
		{"https://192.168.0.10", ErrBlockedIP},
		{"https://", ErrInvalidURL},
	}

	for _, tt := range tests {
		_, err := validateURL(tt.url)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("validateURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}
