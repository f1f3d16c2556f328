// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval queries the local vector-store service for passages
// relevant to the latest user message. The service is a black box behind
// one HTTP endpoint; this package only translates its wire shape.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/config"
)

// ErrUnauthorized reports a token mismatch between this process and the
// vector-store service. Orchestration treats it specially: the user gets a
// remediation message, not a generic failure.
var ErrUnauthorized = errors.New("vector store rejected the session token")

// Query identifies what to search and on whose behalf.
type Query struct {
	Text           string `json:"query"`
	UserID         int64  `json:"user_id"`
	UserName       string `json:"user_name"`
	CollectionID   int64  `json:"collection_id"`
	CollectionName string `json:"collection_name"`
}

// Client is the retrieval contract the orchestrator consumes.
type Client interface {
	Query(ctx context.Context, token string, q Query) (*chat.RetrievalPayload, error)
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// HTTPClient talks to the vector-store service over loopback HTTP with a
// session-issued bearer token.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg config.RetrievalConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.QueryTimeout},
	}
}

type queryResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Results []struct {
		Content  string                 `json:"content"`
		Metadata chat.RetrievalMetadata `json:"metadata"`
	} `json:"results"`
}

// Query implements Client.
func (c *HTTPClient) Query(ctx context.Context, token string, q Query) (*chat.RetrievalPayload, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vector-query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector store unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vector store returned status %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The service reports auth failures in-band with a 200 status.
	if out.Status == "error" {
		if out.Message == "Unauthorized" {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("vector store error: %s", out.Message)
	}

	payload := &chat.RetrievalPayload{
		TopK:    len(out.Results),
		Results: make([]chat.RetrievalResult, 0, len(out.Results)),
	}
	for _, r := range out.Results {
		payload.Results = append(payload.Results, chat.RetrievalResult{
			Content:  r.Content,
			Metadata: r.Metadata,
		})
	}
	return payload, nil
}
