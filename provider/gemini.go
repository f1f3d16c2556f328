// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// GEMINI
// =============================================================================

// geminiChunkSize bounds re-split chunk emission. Gemini returns coarse
// candidate blocks; the UI expects fine-grained deltas, so blocks are
// re-split on word boundaries before emission.
const geminiChunkSize = 24

type geminiAdapter struct {
	resolver CredentialResolver
	logger   *logrus.Logger
}

// NewGemini returns the adapter for the Google Gemini API.
func NewGemini(resolver CredentialResolver, logger *logrus.Logger) Adapter {
	return &geminiAdapter{resolver: resolver, logger: logger}
}

func (a *geminiAdapter) Name() string {
	return "gemini"
}

func (a *geminiAdapter) Capabilities() Capabilities {
	return Capabilities{}
}

func (a *geminiAdapter) client(ctx context.Context, userID int64) (*genai.Client, error) {
	key, err := a.resolver.APIKey(userID, "gemini")
	if err != nil || key == "" {
		return nil, ErrNoCredential
	}
	return genai.NewClient(ctx, option.WithAPIKey(key))
}

// toGeminiHistory maps the normalized history onto Gemini's two-role chat
// session shape. System messages are folded into the system instruction
// upstream, so they are dropped here; assistant becomes "model".
func toGeminiHistory(messages []chat.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chat.RoleSystem {
			continue
		}
		role := "user"
		if msg.Role == chat.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return history
}

// partsText concatenates the text parts of a candidate block.
func partsText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// emitFine re-splits a coarse block into word-boundary chunks and pushes
// each through the sink.
func emitFine(block string, sink ChunkSink) {
	runes := []rune(block)
	for len(runes) > 0 {
		if len(runes) <= geminiChunkSize {
			sink.content(string(runes))
			return
		}
		cut := geminiChunkSize
		for i := cut - 1; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i + 1
				break
			}
		}
		sink.content(string(runes[:cut]))
		runes = runes[cut:]
	}
}

func (a *geminiAdapter) Stream(ctx context.Context, in ChatInput, sink ChunkSink) (*chat.ProviderResult, error) {
	client, err := a.client(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	model := client.GenerativeModel(in.Settings.Model)
	model.SetTemperature(float32(in.Settings.SamplingTemperature()))
	model.SetMaxOutputTokens(int32(in.MaxOutput))
	if in.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(in.SystemPrompt)},
		}
	}

	history := toGeminiHistory(in.Messages)
	if len(history) == 0 {
		return nil, ErrEmptyResponse
	}
	last := history[len(history)-1]

	session := model.StartChat()
	session.History = history[:len(history)-1]

	var content strings.Builder
	iter := session.SendMessageStream(ctx, last.Parts...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if aborted(ctx, err) {
				return &chat.ProviderResult{Content: content.String(), Aborted: true}, nil
			}
			return nil, &StreamError{Partial: content.String(), Err: err}
		}
		for _, cand := range resp.Candidates {
			block := partsText(cand.Content)
			if block == "" {
				continue
			}
			content.WriteString(block)
			emitFine(block, sink)
		}
	}

	return &chat.ProviderResult{Content: content.String()}, nil
}

func (a *geminiAdapter) Complete(ctx context.Context, in ChatInput) (string, error) {
	client, err := a.client(ctx, in.UserID)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(in.Settings.Model)
	model.SetTemperature(0.1)
	if in.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(in.SystemPrompt)},
		}
	}

	prompt := chat.LastUserContent(in.Messages)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	return partsText(resp.Candidates[0].Content), nil
}

func (a *geminiAdapter) GenerateTitle(ctx context.Context, userID int64, settings chat.Settings, input string) (string, error) {
	client, err := a.client(ctx, userID)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(settings.Model)
	model.SetMaxOutputTokens(20)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titlePrompt)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(input))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(partsText(resp.Candidates[0].Content)), nil
}
