// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// Request is the unit of work handed to the orchestrator: the full history
// plus the new user turn, identified by RequestID so the UI can cancel a
// specific in-flight request without affecting others.
type Request struct {
	// RequestID identifies this in-flight request for cancellation.
	RequestID string `json:"request_id"`

	// UserID owns the settings, credentials, and conversations consulted.
	UserID int64 `json:"user_id"`

	// ConversationID is zero for the first turn of a new conversation.
	ConversationID int64 `json:"conversation_id,omitempty"`

	// Messages is the full history with the new user turn last.
	Messages []Message `json:"messages"`

	// CollectionID selects a document collection for retrieval (0 = none).
	CollectionID int64 `json:"collection_id,omitempty"`

	// Title is the current conversation title, empty on the first turn.
	Title string `json:"title,omitempty"`
}

// ProviderResult is the normalized output of a provider adapter.
// Aborted results still carry whatever partial text was generated so it can
// be persisted.
type ProviderResult struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
	Aborted   bool   `json:"aborted"`
}

// =============================================================================
// AUGMENTATION PAYLOADS
// =============================================================================

// RetrievalMetadata locates a retrieved passage in its source document.
type RetrievalMetadata struct {
	Source     string `json:"source"`
	Title      string `json:"title,omitempty"`
	ChunkStart int    `json:"chunk_start,omitempty"`
	ChunkEnd   int    `json:"chunk_end,omitempty"`
}

// RetrievalResult is one ranked passage from the vector store.
type RetrievalResult struct {
	Content  string            `json:"content"`
	Metadata RetrievalMetadata `json:"metadata"`
}

// RetrievalPayload is the ranked passage set attached to an assistant
// message. Immutable once created.
type RetrievalPayload struct {
	TopK    int               `json:"top_k"`
	Results []RetrievalResult `json:"results"`
}

// Collection describes a user-defined document collection.
type Collection struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// WebMetadata is the document metadata captured from a visited page.
type WebMetadata struct {
	Title       string `json:"title"`
	Source      string `json:"source"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Keywords    string `json:"keywords"`
	OGImage     string `json:"ogImage"`
}

// WebResult is the web agent's extraction from a visited page.
// TextContent is capped at 2000 characters at the extraction site.
type WebResult struct {
	Metadata    WebMetadata `json:"metadata"`
	TextContent string      `json:"textContent"`
}
