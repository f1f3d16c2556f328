// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures shared across the orchestration
// engine: conversation messages, user settings, requests, and the normalized
// provider/augmentation results.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the three conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
// Insertion order is conversation order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ReasoningContent holds the chain-of-thought text attached to an
	// assistant turn, when reasoning ran for that turn.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// DataContent holds the serialized RetrievalPayload attached to an
	// assistant turn, for later "sources" rendering.
	DataContent string `json:"data_content,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (m Message) EstimateTokens() int {
	return (len(m.Content) + 3) / 4
}

// IsEmpty returns true if the message has no content.
func (m Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// LastUserContent returns the content of the most recent user message in
// the slice, or "" if there is none.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
