// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// OLLAMA
// =============================================================================

type ollamaAdapter struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger

	// sem serializes requests. Local inference saturates the machine, so
	// concurrent generations only slow each other down.
	sem *semaphore.Weighted
}

// NewOllama returns the adapter for a local Ollama server. No credential is
// required; the server listens on loopback.
func NewOllama(baseURL string, client *http.Client, logger *logrus.Logger) Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
		sem:     semaphore.NewWeighted(1),
	}
}

func (a *ollamaAdapter) Name() string {
	return "ollama"
}

func (a *ollamaAdapter) Capabilities() Capabilities {
	return Capabilities{}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Format    string          `json:"format,omitempty"`
	KeepAlive int             `json:"keep_alive,omitempty"`
	Options   *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func toOllamaMessages(systemPrompt string, messages []chat.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range messages {
		out = append(out, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

func (a *ollamaAdapter) post(ctx context.Context, reqBody ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var ollamaErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&ollamaErr) == nil && ollamaErr.Error != "" {
			return nil, fmt.Errorf("ollama: %s (status %d)", ollamaErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// Stream implements Adapter. The response is newline-delimited JSON, one
// object per generation step. keep_alive -1 pins the model in memory between
// turns.
func (a *ollamaAdapter) Stream(ctx context.Context, in ChatInput, sink ChunkSink) (*chat.ProviderResult, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		if aborted(ctx, err) {
			return &chat.ProviderResult{Aborted: true}, nil
		}
		return nil, err
	}
	defer a.sem.Release(1)

	resp, err := a.post(ctx, ollamaChatRequest{
		Model:     in.Settings.Model,
		Messages:  toOllamaMessages(in.SystemPrompt, in.Messages),
		Stream:    true,
		KeepAlive: -1,
		Options: &ollamaOptions{
			Temperature: in.Settings.SamplingTemperature(),
			NumPredict:  in.MaxOutput,
		},
	})
	if err != nil {
		if aborted(ctx, err) {
			return &chat.ProviderResult{Aborted: true}, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var step ollamaChatResponse
		if json.Unmarshal(line, &step) != nil {
			continue
		}
		if step.Error != "" {
			return nil, &StreamError{
				Partial: content.String(),
				Err:     fmt.Errorf("ollama: %s", step.Error),
			}
		}
		if step.Message.Content != "" {
			content.WriteString(step.Message.Content)
			sink.content(step.Message.Content)
		}
		if step.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if aborted(ctx, err) {
			return &chat.ProviderResult{Content: content.String(), Aborted: true}, nil
		}
		return nil, &StreamError{Partial: content.String(), Err: err}
	}

	return &chat.ProviderResult{Content: content.String()}, nil
}

// complete performs a single non-streaming chat call.
func (a *ollamaAdapter) complete(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer a.sem.Release(1)

	resp, err := a.post(ctx, reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Message.Content, nil
}

func (a *ollamaAdapter) Complete(ctx context.Context, in ChatInput) (string, error) {
	return a.complete(ctx, ollamaChatRequest{
		Model:    in.Settings.Model,
		Messages: toOllamaMessages(in.SystemPrompt, in.Messages),
		Stream:   false,
		Format:   "json",
		Options:  &ollamaOptions{Temperature: 0.1},
	})
}

func (a *ollamaAdapter) GenerateTitle(ctx context.Context, _ int64, settings chat.Settings, input string) (string, error) {
	title, err := a.complete(ctx, ollamaChatRequest{
		Model: settings.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: titlePrompt},
			{Role: "user", Content: input},
		},
		Stream:  false,
		Options: &ollamaOptions{NumPredict: 20},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(title), nil
}
