// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt composes system prompts from the persona prompt and the
// auxiliary context gathered before the main completion. Composition is
// pure text assembly with a fixed section order.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/digo9606/Notate-sub000/chat"
)

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

// recencyInstruction disambiguates "the last message" for histories that
// have been truncated upstream.
const recencyInstruction = "When asked about previous messages, only consider messages marked as '(most recent message)' as the last message. "

// Context carries the optional auxiliary inputs to prompt assembly.
type Context struct {
	Retrieval  *chat.RetrievalPayload
	Collection *chat.Collection
	Web        *chat.WebResult
	Reasoning  string
}

func appendCollection(b *strings.Builder, payload *chat.RetrievalPayload, collection *chat.Collection, terminator bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	b.WriteString("The following is the data that the user has provided via their custom data collection: ")
	fmt.Fprintf(b, "\n\n%s", data)
	if collection != nil {
		fmt.Fprintf(b, "\n\nCollection/Store Name: %s", collection.Name)
		fmt.Fprintf(b, "\n\nCollection/Store Files: %s", strings.Join(collection.Files, ", "))
		fmt.Fprintf(b, "\n\nCollection/Store Description: %s", collection.Description)
	}
	if terminator {
		b.WriteString("\n\n*** THIS IS THE END OF THE DATA COLLECTION ***")
	}
}

// BuildSystem builds the system prompt for the main completion. Sections
// appear in fixed order: the recency instruction, the persona prompt, prior
// reasoning marked as already done, web page evidence, then collection data.
func BuildSystem(basePrompt string, ctx Context) string {
	var b strings.Builder
	b.WriteString(recencyInstruction)
	b.WriteString(basePrompt)

	if ctx.Reasoning != "" {
		b.WriteString("\n\nUse this reasoning process to guide your response (Reasoning has already been provided, DO NOT RE-REASON): ")
		b.WriteString(ctx.Reasoning)
		b.WriteString("\n\n")
	}
	if ctx.Web != nil {
		if data, err := json.Marshal(ctx.Web); err == nil {
			fmt.Fprintf(&b, "The following is content retrieved from a website the user asked about: %s\n\n", data)
		}
	}
	if ctx.Retrieval != nil {
		appendCollection(&b, ctx.Retrieval, ctx.Collection, false)
	}
	return b.String()
}

// =============================================================================
// REASONING PROMPT
// =============================================================================

// BuildReasoning builds the system prompt for the reasoning pre-pass. It
// demands the step-by-step analysis and forbids the final answer.
func BuildReasoning(rationale string, ctx Context) string {
	var b strings.Builder
	b.WriteString("You are a reasoning engine. Your task is to analyze the question and outline your step-by-step reasoning process for how to answer it. Keep your reasoning concise and focused on the key logical steps. Only return the reasoning process, do not provide the final answer.")

	if rationale != "" {
		fmt.Fprintf(&b, " The agent's actions are: %s", rationale)
	}
	if ctx.Web != nil {
		if data, err := json.Marshal(ctx.Web); err == nil {
			fmt.Fprintf(&b, "\n\nThe following is the web search results from the agent please include them in your reasoning process: %s", data)
		}
	}
	if ctx.Retrieval != nil {
		b.WriteString("\n\n")
		appendCollection(&b, ctx.Retrieval, ctx.Collection, true)
	}
	return b.String()
}

// =============================================================================
// MESSAGE TAGGING
// =============================================================================

// TagMessages annotates user messages with their wall-clock time and marks
// the final message so the model can anchor "most recent" after truncation.
// The input is not mutated.
func TagMessages(messages []chat.Message) []chat.Message {
	tagged := make([]chat.Message, len(messages))
	copy(tagged, messages)
	for i := range tagged {
		if tagged[i].Role != chat.RoleUser {
			continue
		}
		suffix := ""
		if i == len(tagged)-1 {
			suffix = " (most recent message)"
		}
		tagged[i].Content = fmt.Sprintf("[%s] %s%s", tagged[i].Timestamp.Format("3:04:05 PM"), tagged[i].Content, suffix)
	}
	return tagged
}
