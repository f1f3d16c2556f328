// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reasoning runs the chain-of-thought pre-pass: a second,
// reasoning-only completion whose output seeds the main system prompt.
package reasoning

import (
	"context"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/internal/budget"
	"github.com/digo9606/Notate-sub000/internal/prompt"
	"github.com/digo9606/Notate-sub000/provider"
)

// ChunkPrefix marks pre-pass fragments so the UI can render them in the
// reasoning pane rather than the answer bubble.
const ChunkPrefix = "[REASONING]: "

// Input bundles everything the pre-pass needs.
type Input struct {
	UserID    int64
	Messages  []chat.Message
	Settings  chat.Settings
	Context   prompt.Context
	Rationale string
	MaxTotal  int
}

// Run streams a reasoning-only completion and returns the collected
// reasoning text. Chunks reach onChunk with the reasoning prefix attached.
// The history is budgeted independently of the main pass.
//
// Callers skip the pre-pass entirely for models with a native reasoning
// channel; that gate lives in the orchestrator, not here.
func Run(ctx context.Context, adapter provider.Adapter, in Input, onChunk func(string)) (string, error) {
	sysPrompt := prompt.BuildReasoning(in.Rationale, in.Context)

	messages, err := budget.Truncate(in.Messages, sysPrompt, in.Settings.MaxOutputTokens(), in.MaxTotal, adapter.Capabilities())
	if err != nil {
		return "", err
	}

	result, err := adapter.Stream(ctx, provider.ChatInput{
		UserID:       in.UserID,
		Messages:     messages,
		SystemPrompt: sysPrompt,
		Settings:     in.Settings,
		MaxOutput:    in.Settings.MaxOutputTokens(),
	}, provider.ChunkSink{
		OnContent: func(text string) {
			if onChunk != nil {
				onChunk(ChunkPrefix + text)
			}
		},
	})
	if err != nil {
		return "", err
	}
	if result.Aborted {
		return result.Content, context.Canceled
	}
	return result.Content, nil
}
