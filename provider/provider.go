// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider normalizes the heterogeneous request/response/streaming
// shapes of the LLM backends into one adapter contract.
//
// Each backend implements Adapter; the orchestrator looks adapters up in a
// name-keyed Registry and never branches on provider identity itself.
// Adapters stream fine-grained chunks through a ChunkSink, surface abort as
// a result rather than an error, and preserve partial output on failure.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoCredential indicates the user has no stored credential for the
	// selected backend. The orchestrator turns this into a remediation
	// message, never a raw error to the UI.
	ErrNoCredential = errors.New("no credential stored for provider")

	// ErrNotRegistered indicates an unknown provider name.
	ErrNotRegistered = errors.New("provider not registered")

	// ErrEmptyResponse indicates the backend returned no choices.
	ErrEmptyResponse = errors.New("no response choices returned")
)

// StreamError reports a failure mid-stream while preserving the partial
// content received before it, so the caller can still persist what the user
// already saw.
type StreamError struct {
	Partial   string
	Reasoning string
	Err       error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ADAPTER CONTRACT
// =============================================================================

// Capabilities describes what a backend can do, so callers consult flags
// instead of matching model-name substrings.
type Capabilities struct {
	// NativeReasoning: the backend interleaves reasoning and content
	// deltas in one stream. The manual chain-of-thought pre-pass is
	// skipped for these backends.
	NativeReasoning bool

	// RequiresUserFirst: the backend rejects histories that do not start
	// with a user turn.
	RequiresUserFirst bool

	// StrictAlternation: the backend rejects consecutive messages of the
	// same non-system role.
	StrictAlternation bool

	// SupportsReasoningEffort: the backend accepts a reasoning-effort
	// parameter in place of temperature when the user sets one.
	SupportsReasoningEffort bool
}

// ChatInput is the normalized request handed to every adapter.
type ChatInput struct {
	UserID       int64
	Messages     []chat.Message
	SystemPrompt string
	Settings     chat.Settings
	MaxOutput    int
}

// ChunkSink receives incremental output from an adapter as it is produced.
// Either callback may be nil.
type ChunkSink struct {
	OnContent   func(text string)
	OnReasoning func(text string)
}

func (s ChunkSink) content(text string) {
	if s.OnContent != nil && text != "" {
		s.OnContent(text)
	}
}

func (s ChunkSink) reasoning(text string) {
	if s.OnReasoning != nil && text != "" {
		s.OnReasoning(text)
	}
}

// Adapter is the common contract every backend implements.
//
// Stream sends the conversation to the backend and delivers chunks through
// sink in generation order. Cancellation of ctx yields a ProviderResult with
// Aborted set and whatever partial text was produced, not an error. A
// mid-stream failure yields a *StreamError preserving the partial content.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, in ChatInput, sink ChunkSink) (*chat.ProviderResult, error)

	// GenerateTitle runs a short dedicated completion producing a
	// conversation title for the given first message.
	GenerateTitle(ctx context.Context, userID int64, settings chat.Settings, input string) (string, error)
}

// Complete is the non-streaming single-shot call used by the web agent's
// classification step. Adapters that can answer a one-off prompt implement
// it; all bundled adapters do.
type Completer interface {
	Complete(ctx context.Context, in ChatInput) (string, error)
}

// =============================================================================
// CREDENTIAL RESOLUTION
// =============================================================================

// AzureCredential is a stored Azure OpenAI endpoint record.
type AzureCredential struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// CustomCredential is a stored custom OpenAI-compatible endpoint record.
type CustomCredential struct {
	Endpoint string
	APIKey   string
}

// CredentialResolver resolves per-user backend credentials. The persistence
// sink implements it; absence of a credential is reported as ErrNoCredential.
type CredentialResolver interface {
	APIKey(userID int64, provider string) (string, error)
	AzureCredential(userID, selectedID int64) (*AzureCredential, error)
	CustomCredential(userID, selectedID int64) (*CustomCredential, error)

	// LocalToken returns the session bearer token for the local daemon.
	LocalToken(userID int64) (string, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps provider names to adapters. Lookup is case-insensitive.
// Adding a backend is additive: register it and the orchestrator can use it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name, replacing any previous
// adapter with the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Name())] = a
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return a, nil
}

// Names returns the registered provider names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// aborted reports whether an error (or the context) indicates deliberate
// cancellation. Deadline expiry is a transient failure, not an abort.
func aborted(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
