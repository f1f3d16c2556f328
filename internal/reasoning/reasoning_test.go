// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/provider"
)

// scriptedAdapter replays fixed chunks through the sink.
type scriptedAdapter struct {
	chunks  []string
	aborted bool
	err     error

	gotPrompt string
}

func (s *scriptedAdapter) Name() string                        { return "scripted" }
func (s *scriptedAdapter) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (s *scriptedAdapter) GenerateTitle(context.Context, int64, chat.Settings, string) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedAdapter) Stream(_ context.Context, in provider.ChatInput, sink provider.ChunkSink) (*chat.ProviderResult, error) {
	s.gotPrompt = in.SystemPrompt
	if s.err != nil {
		return nil, s.err
	}
	var b strings.Builder
	for _, c := range s.chunks {
		b.WriteString(c)
		if sink.OnContent != nil {
			sink.OnContent(c)
		}
	}
	return &chat.ProviderResult{Content: b.String(), Aborted: s.aborted}, nil
}

func input() Input {
	return Input{
		UserID:   1,
		Messages: []chat.Message{chat.NewUserMessage("why is the sky blue?")},
		Settings: chat.Settings{Model: "gpt-4o"},
		MaxTotal: 4096,
	}
}

func TestRunPrefixesChunks(t *testing.T) {
	adapter := &scriptedAdapter{chunks: []string{"step one. ", "step two."}}

	var emitted []string
	text, err := Run(context.Background(), adapter, input(), func(s string) { emitted = append(emitted, s) })
	if err != nil {
		t.Fatal(err)
	}

	if text != "step one. step two." {
		t.Errorf("reasoning text = %q", text)
	}
	if len(emitted) != 2 {
		t.Fatalf("emitted %d chunks, want 2", len(emitted))
	}
	for _, e := range emitted {
		if !strings.HasPrefix(e, ChunkPrefix) {
			t.Errorf("chunk missing prefix: %q", e)
		}
	}
}

func TestRunUsesReasoningPrompt(t *testing.T) {
	adapter := &scriptedAdapter{chunks: []string{"x"}}
	if _, err := Run(context.Background(), adapter, input(), nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(adapter.gotPrompt, "reasoning engine") {
		t.Errorf("system prompt = %q", adapter.gotPrompt)
	}
	if !strings.Contains(adapter.gotPrompt, "do not provide the final answer") {
		t.Error("reasoning prompt must forbid the final answer")
	}
}

func TestRunAbortReturnsPartial(t *testing.T) {
	adapter := &scriptedAdapter{chunks: []string{"partial "}, aborted: true}
	text, err := Run(context.Background(), adapter, input(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if text != "partial " {
		t.Errorf("partial text = %q", text)
	}
}

func TestRunPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	adapter := &scriptedAdapter{err: boom}
	if _, err := Run(context.Background(), adapter, input(), nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
