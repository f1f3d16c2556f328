// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// OPENAI-COMPATIBLE FAMILY
// =============================================================================

// openAICompat covers every backend that speaks the OpenAI chat completion
// wire shape: OpenAI itself, OpenRouter, DeepSeek, xAI, Azure OpenAI,
// user-configured custom endpoints, and the local inference daemon. The
// variants differ only in client construction and capability flags.
type openAICompat struct {
	name string
	caps Capabilities

	// newClient builds a per-request client with the user's credential.
	newClient func(userID int64, settings chat.Settings) (*openai.Client, error)

	// titleModel overrides the user's model for title generation
	// ("" = use the user's selected model).
	titleModel string
}

func (a *openAICompat) Name() string {
	return a.name
}

func (a *openAICompat) Capabilities() Capabilities {
	return a.caps
}

// toOpenAIMessages converts the normalized history, prepending the system
// prompt as a synthetic leading element.
func toOpenAIMessages(systemPrompt string, messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case chat.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case chat.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}

// buildRequest assembles the streaming request, switching between the
// temperature and reasoning-effort parameter families.
func (a *openAICompat) buildRequest(in ChatInput) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    in.Settings.Model,
		Messages: toOpenAIMessages(in.SystemPrompt, in.Messages),
		Stream:   true,
	}
	if a.caps.SupportsReasoningEffort && in.Settings.ReasoningEffort != "" {
		req.ReasoningEffort = in.Settings.ReasoningEffort
	} else {
		req.Temperature = float32(in.Settings.SamplingTemperature())
		req.MaxTokens = in.MaxOutput
	}
	return req
}

// Stream implements Adapter. DeepSeek-style native reasoning deltas are
// demultiplexed live into the reasoning channel; everything else flows
// through the content channel.
func (a *openAICompat) Stream(ctx context.Context, in ChatInput, sink ChunkSink) (*chat.ProviderResult, error) {
	client, err := a.newClient(in.UserID, in.Settings)
	if err != nil {
		return nil, err
	}

	stream, err := client.CreateChatCompletionStream(ctx, a.buildRequest(in))
	if err != nil {
		if aborted(ctx, err) {
			return &chat.ProviderResult{Aborted: true}, nil
		}
		return nil, err
	}
	defer stream.Close()

	var content, reasoning strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
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
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			sink.reasoning(delta.ReasoningContent)
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			sink.content(delta.Content)
		}
	}

	return &chat.ProviderResult{
		Content:   content.String(),
		Reasoning: reasoning.String(),
	}, nil
}

// Complete implements Completer: one non-streaming call, used by the web
// agent's classification step. Temperature is pinned low; the JSON response
// format is requested where the wire shape allows it.
func (a *openAICompat) Complete(ctx context.Context, in ChatInput) (string, error) {
	client, err := a.newClient(in.UserID, in.Settings)
	if err != nil {
		return "", err
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       in.Settings.Model,
		Messages:    toOpenAIMessages(in.SystemPrompt, in.Messages),
		Temperature: 0.1,
		MaxTokens:   in.MaxOutput,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateTitle implements Adapter.
func (a *openAICompat) GenerateTitle(ctx context.Context, userID int64, settings chat.Settings, input string) (string, error) {
	client, err := a.newClient(userID, settings)
	if err != nil {
		return "", err
	}

	model := settings.Model
	if a.titleModel != "" {
		model = a.titleModel
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		MaxTokens:   20,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// titlePrompt instructs the short dedicated title completion.
const titlePrompt = "Generate a short, concise title (5 words or less) for a conversation based on the following message: Return the Title only and nothing else example response: 'Meeting with John' Return: 'Meeting with John'"

// =============================================================================
// VARIANT CONSTRUCTORS
// =============================================================================

// NewOpenAI returns the adapter for the OpenAI API.
func NewOpenAI(resolver CredentialResolver, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name:       "openai",
		caps:       Capabilities{SupportsReasoningEffort: true},
		titleModel: "gpt-4o",
	}
	a.newClient = func(userID int64, _ chat.Settings) (*openai.Client, error) {
		key, err := resolver.APIKey(userID, "openai")
		if err != nil || key == "" {
			return nil, ErrNoCredential
		}
		return openai.NewClient(key), nil
	}
	return a
}

// NewOpenRouter returns the adapter for OpenRouter's aggregation API.
func NewOpenRouter(resolver CredentialResolver, baseURL string, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name: "openrouter",
	}
	a.newClient = func(userID int64, _ chat.Settings) (*openai.Client, error) {
		key, err := resolver.APIKey(userID, "openrouter")
		if err != nil || key == "" {
			return nil, ErrNoCredential
		}
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = baseURL
		return openai.NewClientWithConfig(cfg), nil
	}
	return a
}

// NewDeepSeek returns the adapter for DeepSeek, whose reasoner models
// interleave reasoning_content deltas in the stream.
func NewDeepSeek(resolver CredentialResolver, baseURL string, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name: "deepseek",
		caps: Capabilities{NativeReasoning: true, RequiresUserFirst: true},
	}
	a.newClient = func(userID int64, _ chat.Settings) (*openai.Client, error) {
		key, err := resolver.APIKey(userID, "deepseek")
		if err != nil || key == "" {
			return nil, ErrNoCredential
		}
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = baseURL
		return openai.NewClientWithConfig(cfg), nil
	}
	return a
}

// NewXAI returns the adapter for the xAI API.
func NewXAI(resolver CredentialResolver, baseURL string, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name:       "xai",
		titleModel: "grok-beta",
	}
	a.newClient = func(userID int64, _ chat.Settings) (*openai.Client, error) {
		key, err := resolver.APIKey(userID, "xai")
		if err != nil || key == "" {
			return nil, ErrNoCredential
		}
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = baseURL
		return openai.NewClientWithConfig(cfg), nil
	}
	return a
}

// NewAzureOpenAI returns the adapter for Azure OpenAI deployments. The
// endpoint, key, and deployment come from the user's selected Azure record.
func NewAzureOpenAI(resolver CredentialResolver, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name: "azure open ai",
	}
	a.newClient = func(userID int64, settings chat.Settings) (*openai.Client, error) {
		cred, err := resolver.AzureCredential(userID, settings.SelectedAzureID)
		if err != nil || cred == nil {
			return nil, ErrNoCredential
		}
		cfg := openai.DefaultAzureConfig(cred.APIKey, cred.Endpoint)
		if cred.APIVersion != "" {
			cfg.APIVersion = cred.APIVersion
		}
		deployment := cred.Deployment
		cfg.AzureModelMapperFunc = func(string) string { return deployment }
		return openai.NewClientWithConfig(cfg), nil
	}
	return a
}

// NewCustom returns the adapter for user-configured OpenAI-compatible
// endpoints.
func NewCustom(resolver CredentialResolver, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name: "custom",
	}
	a.newClient = func(userID int64, settings chat.Settings) (*openai.Client, error) {
		cred, err := resolver.CustomCredential(userID, settings.SelectedCustomID)
		if err != nil || cred == nil {
			return nil, ErrNoCredential
		}
		cfg := openai.DefaultConfig(cred.APIKey)
		cfg.BaseURL = cred.Endpoint
		return openai.NewClientWithConfig(cfg), nil
	}
	return a
}

// NewLocalDaemon returns the adapter for the local inference daemon, which
// speaks the OpenAI wire shape on a local port behind a session-issued
// bearer token. The HTTP client tolerates model-loading latency: startup
// slowness is bounded by startupWait, not treated as a hard failure.
func NewLocalDaemon(resolver CredentialResolver, baseURL string, startupWait time.Duration, logger *logrus.Logger) Adapter {
	a := &openAICompat{
		name: "local",
	}
	a.newClient = func(userID int64, _ chat.Settings) (*openai.Client, error) {
		token, err := resolver.LocalToken(userID)
		if err != nil || token == "" {
			return nil, ErrNoCredential
		}
		cfg := openai.DefaultConfig(token)
		cfg.BaseURL = baseURL
		cfg.HTTPClient = newStreamingClient(startupWait)
		return openai.NewClientWithConfig(cfg), nil
	}
	return a
}
