// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"
	"testing"

	"github.com/digo9606/Notate-sub000/chat"
)

func TestBuildSystemSectionOrder(t *testing.T) {
	out := BuildSystem("You are a helpful assistant.", Context{
		Reasoning: "step one, step two",
		Web: &chat.WebResult{
			Metadata:    chat.WebMetadata{Title: "Example", Source: "https://example.com"},
			TextContent: "page body",
		},
		Retrieval: &chat.RetrievalPayload{
			TopK: 2,
			Results: []chat.RetrievalResult{
				{Content: "passage", Metadata: chat.RetrievalMetadata{Source: "doc.txt"}},
			},
		},
		Collection: &chat.Collection{Name: "Papers", Description: "research", Files: []string{"doc.txt"}},
	})

	positions := []struct {
		label  string
		needle string
	}{
		{"recency instruction", "(most recent message)"},
		{"persona prompt", "You are a helpful assistant."},
		{"reasoning marker", "DO NOT RE-REASON"},
		{"reasoning text", "step one, step two"},
		{"web evidence", "example.com"},
		{"collection data", "custom data collection"},
		{"collection name", "Collection/Store Name: Papers"},
	}

	last := -1
	for _, p := range positions {
		idx := strings.Index(out, p.needle)
		if idx < 0 {
			t.Fatalf("missing %s (%q)", p.label, p.needle)
		}
		if idx < last {
			t.Errorf("%s appears out of order", p.label)
		}
		last = idx
	}
}

func TestBuildSystemOmitsAbsentSections(t *testing.T) {
	out := BuildSystem("base", Context{})
	if strings.Contains(out, "RE-REASON") || strings.Contains(out, "data collection") {
		t.Errorf("absent sections leaked into prompt: %q", out)
	}
	if !strings.HasSuffix(out, "base") {
		t.Errorf("prompt should end with persona text, got %q", out)
	}
}

func TestBuildReasoningForbidsAnswer(t *testing.T) {
	out := BuildReasoning("", Context{})
	if !strings.Contains(out, "do not provide the final answer") {
		t.Errorf("reasoning prompt must forbid the final answer: %q", out)
	}
}

func TestBuildReasoningIncludesCollectionTerminator(t *testing.T) {
	out := BuildReasoning("visited site", Context{
		Retrieval:  &chat.RetrievalPayload{TopK: 1},
		Collection: &chat.Collection{Name: "Papers"},
	})
	if !strings.Contains(out, "The agent's actions are: visited site") {
		t.Error("missing agent rationale")
	}
	if !strings.Contains(out, "*** THIS IS THE END OF THE DATA COLLECTION ***") {
		t.Error("missing data collection terminator")
	}
}

func TestTagMessages(t *testing.T) {
	msgs := []chat.Message{
		chat.NewUserMessage("first"),
		chat.NewAssistantMessage("reply"),
		chat.NewUserMessage("second"),
	}
	tagged := TagMessages(msgs)

	if strings.Contains(tagged[0].Content, "most recent message") {
		t.Error("only the final message gets the recency tag")
	}
	if !strings.HasPrefix(tagged[0].Content, "[") {
		t.Errorf("user messages carry a timestamp prefix: %q", tagged[0].Content)
	}
	if tagged[1].Content != "reply" {
		t.Errorf("assistant content must be untouched: %q", tagged[1].Content)
	}
	if !strings.HasSuffix(tagged[2].Content, "(most recent message)") {
		t.Errorf("final user message missing tag: %q", tagged[2].Content)
	}
	if msgs[2].Content != "second" {
		t.Error("input slice was mutated")
	}
}
