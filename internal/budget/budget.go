// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget trims conversation histories to fit a model's context
// window while keeping the role pattern providers accept.
package budget

import (
	"errors"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/provider"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// messageOverhead models the role and formatting tokens each message
	// carries on the wire.
	messageOverhead = 4

	// reservedTokens is held back from the budget for response framing.
	reservedTokens = 3

	// minMessages is the floor below which the front-pop never trims,
	// except for single-message conversations which pass through whole.
	minMessages = 3
)

// ErrInvalidMessagePattern reports a history whose tail cannot form the
// user, assistant, user sequence strict providers require.
var ErrInvalidMessagePattern = errors.New("message history does not end user/assistant/user")

// =============================================================================
// TRUNCATION
// =============================================================================

// cost returns the token estimate for one message including overhead.
func cost(m chat.Message) int {
	return m.EstimateTokens() + messageOverhead
}

// total returns the token estimate for the whole request.
func total(messages []chat.Message, systemPrompt string) int {
	sum := (len(systemPrompt) + 3) / 4
	for _, m := range messages {
		sum += cost(m)
	}
	return sum
}

// dropLeadingNonUser removes messages before the first user turn.
func dropLeadingNonUser(messages []chat.Message) []chat.Message {
	for i, m := range messages {
		if m.Role == chat.RoleUser {
			return messages[i:]
		}
	}
	return nil
}

// tailAlternates reports whether the last three messages form the
// user, assistant, user pattern.
func tailAlternates(messages []chat.Message) bool {
	n := len(messages)
	if n < minMessages {
		return false
	}
	return messages[n-3].Role == chat.RoleUser &&
		messages[n-2].Role == chat.RoleAssistant &&
		messages[n-1].Role == chat.RoleUser
}

// Truncate fits messages plus the system prompt into the model's context
// window, leaving maxOutput/2 plus a small reserve for the response.
//
// Histories already under budget pass through untouched unless the target
// provider requires a user-first history, in which case normalization runs
// regardless. A single-message conversation is always returned whole. The
// trim pops from the front, oldest first, and never goes below three
// messages.
func Truncate(messages []chat.Message, systemPrompt string, maxOutput, maxTotal int, caps provider.Capabilities) ([]chat.Message, error) {
	if len(messages) <= 1 {
		return messages, nil
	}

	available := maxTotal - maxOutput/2 - reservedTokens
	if total(messages, systemPrompt) <= available && !caps.RequiresUserFirst {
		return messages, nil
	}

	trimmed := messages
	if caps.RequiresUserFirst {
		trimmed = dropLeadingNonUser(trimmed)
	}

	for len(trimmed) > minMessages && total(trimmed, systemPrompt) > available {
		trimmed = trimmed[1:]
		if caps.RequiresUserFirst {
			trimmed = dropLeadingNonUser(trimmed)
		}
	}

	if len(trimmed) == 1 {
		return trimmed, nil
	}
	if (caps.RequiresUserFirst || len(trimmed) != len(messages)) && !tailAlternates(trimmed) {
		return nil, ErrInvalidMessagePattern
	}
	return trimmed, nil
}
