// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent decides whether the user explicitly asked to visit a
// website and, when they did, fetches the page and extracts its content.
// Everything here is best-effort: failures degrade to "no web result"
// instead of failing the chat request.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/provider"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// classifyPrompt instructs the model to answer with the strict two-field
// decision object and nothing else. The trigger must be an explicit user
// request, never an inferred one.
const classifyPrompt = `You are an AI Agent with the ability to visit websites and extract text and metadata.
Your task is to analyze if the user is DIRECTLY requesting to visit or check a specific website.

ONLY use web search or news search if the user explicitly asks to visit, check, or get information from a specific URL or website or websearch or news search.
Do not infer or assume web search would be helpful unless directly requested asking what is on a website is a valid web search.

If the user directly requests web search, respond with EXACTLY this JSON format:
{
  "webUrl": 1,
  "url": "full_url_here"
}

For all other queries, even if web search might be helpful, respond with EXACTLY:
{
  "webUrl": 0,
  "url": ""
}

example:
user: "What is on the google news page?"
agent: {
  "webUrl": 1,
  "url": "https://news.google.com"
}

user: "What is the capital of France?"
agent: {
  "webUrl": 0,
  "url": ""
}

Only respond with one of these two JSON formats, nothing else.
Make sure the URL is a complete, valid URL starting with http:// or https://
Do not include any explanation or additional text in your response.`

// decision is the classifier's answer.
type decision struct {
	WebURL int    `json:"webUrl"`
	URL    string `json:"url"`
}

// parseDecision recovers the decision object from a model response,
// tolerating markdown code fences around the JSON.
func parseDecision(response string) (decision, bool) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var d decision
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return decision{}, false
	}
	if d.WebURL != 0 && d.WebURL != 1 {
		return decision{}, false
	}
	if d.WebURL == 1 && d.URL == "" {
		return decision{}, false
	}
	return d, true
}

// =============================================================================
// AGENT
// =============================================================================

// Agent runs the classify-then-fetch flow against the active provider.
type Agent struct {
	fetcher *Fetcher
	logger  *logrus.Logger
}

func New(fetcher *Fetcher, logger *logrus.Logger) *Agent {
	if logger == nil {
		logger = logrus.New()
	}
	return &Agent{fetcher: fetcher, logger: logger}
}

// Outcome reports what the agent did, for the UI trace and the reasoning
// pre-pass.
type Outcome struct {
	Rationale string
	Web       *chat.WebResult
}

// Run asks the active provider whether the user requested a website visit
// and fetches the page when it says yes. Any failure along the way returns
// an Outcome with no web result.
func (a *Agent) Run(ctx context.Context, adapter provider.Adapter, userID int64, messages []chat.Message, settings chat.Settings) Outcome {
	none := Outcome{Rationale: "No web search was needed or the search failed"}

	completer, ok := adapter.(provider.Completer)
	if !ok {
		a.logger.WithField("provider", adapter.Name()).Debug("provider does not support completion, skipping web agent")
		return none
	}

	latest := chat.LastUserContent(messages)
	if latest == "" {
		return none
	}

	response, err := completer.Complete(ctx, provider.ChatInput{
		UserID:       userID,
		Messages:     []chat.Message{chat.NewUserMessage(latest)},
		SystemPrompt: classifyPrompt,
		Settings:     settings,
		MaxOutput:    settings.MaxOutputTokens(),
	})
	if err != nil {
		a.logger.WithError(err).Debug("web agent classification failed")
		return none
	}

	d, ok := parseDecision(response)
	if !ok {
		a.logger.WithField("response", response).Debug("web agent returned malformed decision")
		return none
	}
	if d.WebURL != 1 {
		return none
	}

	result, err := a.fetcher.Fetch(ctx, d.URL)
	if err != nil {
		a.logger.WithError(err).WithField("url", d.URL).Debug("website fetch failed")
		return Outcome{Rationale: "Failed to visit website: " + d.URL}
	}

	return Outcome{
		Rationale: "Retrieved content from: " + d.URL,
		Web:       result,
	}
}
