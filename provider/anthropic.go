// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// ANTHROPIC
// =============================================================================

const anthropicVersion = "2023-06-01"

type anthropicAdapter struct {
	baseURL  string
	resolver CredentialResolver
	client   *http.Client
	logger   *logrus.Logger
}

// NewAnthropic returns the adapter for the Anthropic messages API. Anthropic
// rejects histories that start with an assistant turn or repeat a role, so
// the capability flags request strict normalization upstream.
func NewAnthropic(resolver CredentialResolver, baseURL string, client *http.Client, logger *logrus.Logger) Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &anthropicAdapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		resolver: resolver,
		client:   client,
		logger:   logger,
	}
}

func (a *anthropicAdapter) Name() string {
	return "anthropic"
}

func (a *anthropicAdapter) Capabilities() Capabilities {
	return Capabilities{RequiresUserFirst: true, StrictAlternation: true}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// anthropicEvent covers the event payloads of the streaming protocol. Only
// the fields the stream loop consumes are declared.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// toAnthropicMessages maps the normalized history onto Anthropic's two-role
// message list. System entries are carried in the request's system field.
func toAnthropicMessages(messages []chat.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chat.RoleSystem {
			continue
		}
		role := "user"
		if msg.Role == chat.RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMessage{Role: role, Content: msg.Content})
	}
	return out
}

func (a *anthropicAdapter) newRequest(ctx context.Context, userID int64, body any) (*http.Request, error) {
	key, err := a.resolver.APIKey(userID, "anthropic")
	if err != nil || key == "" {
		return nil, ErrNoCredential
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func anthropicStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ev anthropicEvent
	if json.Unmarshal(body, &ev) == nil && ev.Error.Message != "" {
		return fmt.Errorf("anthropic: %s (status %d)", ev.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("anthropic: unexpected status %d", resp.StatusCode)
}

func (a *anthropicAdapter) Stream(ctx context.Context, in ChatInput, sink ChunkSink) (*chat.ProviderResult, error) {
	req, err := a.newRequest(ctx, in.UserID, anthropicRequest{
		Model:       in.Settings.Model,
		System:      in.SystemPrompt,
		Messages:    toAnthropicMessages(in.Messages),
		MaxTokens:   in.MaxOutput,
		Temperature: in.Settings.SamplingTemperature(),
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		if aborted(ctx, err) {
			return &chat.ProviderResult{Aborted: true}, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, anthropicStatusError(resp)
	}

	var content, reasoning strings.Builder
	reader := newSSEReader(resp.Body)
	for {
		eventType, data, err := reader.readEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			if aborted(ctx, err) {
				return &chat.ProviderResult{
					Content:   content.String(),
					Reasoning: reasoning.String(),
					Aborted:   true,
				}, nil
			}
			return nil, &StreamError{
				Partial:   content.String(),
				Reasoning: reasoning.String(),
				Err:       err,
			}
		}

		var ev anthropicEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		if ev.Type == "" {
			ev.Type = eventType
		}

		switch ev.Type {
		case "content_block_delta":
			switch ev.Delta.Type {
			case "thinking_delta":
				reasoning.WriteString(ev.Delta.Thinking)
				sink.reasoning(ev.Delta.Thinking)
			default:
				if ev.Delta.Text != "" {
					content.WriteString(ev.Delta.Text)
					sink.content(ev.Delta.Text)
				}
			}
		case "error":
			return nil, &StreamError{
				Partial:   content.String(),
				Reasoning: reasoning.String(),
				Err:       fmt.Errorf("anthropic: %s", ev.Error.Message),
			}
		case "message_stop":
			return &chat.ProviderResult{
				Content:   content.String(),
				Reasoning: reasoning.String(),
			}, nil
		}
	}

	return &chat.ProviderResult{
		Content:   content.String(),
		Reasoning: reasoning.String(),
	}, nil
}

// complete performs a single non-streaming messages call.
func (a *anthropicAdapter) complete(ctx context.Context, userID int64, reqBody anthropicRequest) (string, error) {
	req, err := a.newRequest(ctx, userID, reqBody)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", anthropicStatusError(resp)
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (a *anthropicAdapter) Complete(ctx context.Context, in ChatInput) (string, error) {
	return a.complete(ctx, in.UserID, anthropicRequest{
		Model:       in.Settings.Model,
		System:      in.SystemPrompt,
		Messages:    toAnthropicMessages(in.Messages),
		MaxTokens:   in.MaxOutput,
		Temperature: 0.1,
	})
}

func (a *anthropicAdapter) GenerateTitle(ctx context.Context, userID int64, settings chat.Settings, input string) (string, error) {
	title, err := a.complete(ctx, userID, anthropicRequest{
		Model:     settings.Model,
		System:    titlePrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: input}},
		MaxTokens: 20,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(title), nil
}
