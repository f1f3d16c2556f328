// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeResolver returns fixed credentials for tests.
type fakeResolver struct {
	key   string
	token string
	err   error
}

func (f *fakeResolver) APIKey(int64, string) (string, error) {
	return f.key, f.err
}

func (f *fakeResolver) AzureCredential(int64, int64) (*AzureCredential, error) {
	if f.key == "" {
		return nil, f.err
	}
	return &AzureCredential{Endpoint: "https://example.openai.azure.com", APIKey: f.key, Deployment: "gpt-4o"}, nil
}

func (f *fakeResolver) CustomCredential(int64, int64) (*CustomCredential, error) {
	if f.key == "" {
		return nil, f.err
	}
	return &CustomCredential{Endpoint: "http://localhost:9999/v1", APIKey: f.key}, nil
}

func (f *fakeResolver) LocalToken(int64) (string, error) {
	return f.token, f.err
}

// stubAdapter is a minimal Adapter for registry tests.
type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string               { return s.name }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) Stream(context.Context, ChatInput, ChunkSink) (*chat.ProviderResult, error) {
	return &chat.ProviderResult{Content: "ok"}, nil
}
func (s *stubAdapter) GenerateTitle(context.Context, int64, chat.Settings, string) (string, error) {
	return "Title", nil
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistryLookupCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "azure open ai"})

	for _, name := range []string{"azure open ai", "Azure Open AI", "AZURE OPEN AI"} {
		a, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%q) returned error: %v", name, err)
		}
		if a.Name() != "azure open ai" {
			t.Errorf("Get(%q) returned adapter %q", name, a.Name())
		}
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("does-not-exist")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("error should name the provider: %v", err)
	}
}

// =============================================================================
// CHUNK SINK TESTS
// =============================================================================

func TestChunkSinkNilCallbacks(t *testing.T) {
	var sink ChunkSink

	// Must not panic with no callbacks set.
	sink.content("hello")
	sink.reasoning("thinking")
}

func TestChunkSinkDelivery(t *testing.T) {
	var gotContent, gotReasoning []string
	sink := ChunkSink{
		OnContent:   func(s string) { gotContent = append(gotContent, s) },
		OnReasoning: func(s string) { gotReasoning = append(gotReasoning, s) },
	}

	sink.content("a")
	sink.reasoning("r")
	sink.content("b")

	if strings.Join(gotContent, "") != "ab" {
		t.Errorf("content chunks = %v", gotContent)
	}
	if strings.Join(gotReasoning, "") != "r" {
		t.Errorf("reasoning chunks = %v", gotReasoning)
	}
}

// =============================================================================
// STREAM ERROR TESTS
// =============================================================================

func TestStreamErrorPreservesPartial(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StreamError{Partial: "partial text", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("StreamError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}

	var se *StreamError
	if !errors.As(error(err), &se) {
		t.Fatal("errors.As failed")
	}
	if se.Partial != "partial text" {
		t.Errorf("Partial = %q", se.Partial)
	}
}

// =============================================================================
// ABORT CLASSIFICATION TESTS
// =============================================================================

func TestAbortedOnlyForCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !aborted(ctx, nil) {
		t.Error("cancelled context should be classified as abort")
	}

	if aborted(context.Background(), context.DeadlineExceeded) {
		t.Error("deadline expiry is a failure, not an abort")
	}
	if aborted(context.Background(), io.ErrUnexpectedEOF) {
		t.Error("transport error is a failure, not an abort")
	}
	if !aborted(context.Background(), context.Canceled) {
		t.Error("context.Canceled error should be classified as abort")
	}
}

// =============================================================================
// CREDENTIAL GATING TESTS
// =============================================================================

func TestOpenAICompatMissingKey(t *testing.T) {
	adapter := NewOpenAI(&fakeResolver{}, nil)
	_, err := adapter.Stream(context.Background(), ChatInput{
		Messages: []chat.Message{chat.NewUserMessage("hi")},
		Settings: chat.Settings{Provider: "openai", Model: "gpt-4o"},
	}, ChunkSink{})
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestGeminiMissingKey(t *testing.T) {
	adapter := NewGemini(&fakeResolver{}, nil)
	_, err := adapter.Stream(context.Background(), ChatInput{
		Messages: []chat.Message{chat.NewUserMessage("hi")},
		Settings: chat.Settings{Provider: "gemini", Model: "gemini-1.5-pro"},
	}, ChunkSink{})
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestAnthropicMissingKey(t *testing.T) {
	adapter := NewAnthropic(&fakeResolver{}, "https://api.anthropic.com", nil, nil)
	_, err := adapter.GenerateTitle(context.Background(), 1, chat.Settings{Model: "claude-3-5-sonnet"}, "hello")
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

// =============================================================================
// MESSAGE MAPPING TESTS
// =============================================================================

func TestToAnthropicMessagesFiltersSystem(t *testing.T) {
	msgs := toAnthropicMessages([]chat.Message{
		chat.NewSystemMessage("system"),
		chat.NewUserMessage("hi"),
		chat.NewAssistantMessage("hello"),
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestToGeminiHistoryRoleMapping(t *testing.T) {
	history := toGeminiHistory([]chat.Message{
		chat.NewSystemMessage("system"),
		chat.NewUserMessage("hi"),
		chat.NewAssistantMessage("hello"),
	})
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	if history[0].Role != "user" {
		t.Errorf("first role = %q", history[0].Role)
	}
	if history[1].Role != "model" {
		t.Errorf("assistant should map to model, got %q", history[1].Role)
	}
}

func TestEmitFineSplitsOnWordBoundary(t *testing.T) {
	var chunks []string
	sink := ChunkSink{OnContent: func(s string) { chunks = append(chunks, s) }}

	block := "the quick brown fox jumps over the lazy dog and keeps on going"
	emitFine(block, sink)

	if len(chunks) < 2 {
		t.Fatalf("expected re-splitting, got %d chunks", len(chunks))
	}
	if strings.Join(chunks, "") != block {
		t.Errorf("reassembled = %q, want original", strings.Join(chunks, ""))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if len(c) > geminiChunkSize {
			t.Errorf("chunk %d exceeds size bound: %q", i, c)
		}
	}
}

func TestEmitFineKeepsRunesIntact(t *testing.T) {
	var chunks []string
	sink := ChunkSink{OnContent: func(s string) { chunks = append(chunks, s) }}

	// No spaces, so every cut falls at the size bound.
	block := strings.Repeat("日本語テキスト", 12)
	emitFine(block, sink)

	if len(chunks) < 2 {
		t.Fatalf("expected re-splitting, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
	}
	if strings.Join(chunks, "") != block {
		t.Error("reassembled text differs from original")
	}
}
