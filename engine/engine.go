// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine is the chat request orchestrator. It sequences the
// auxiliary stages (retrieval, web agent, reasoning pre-pass), assembles
// the prompt, streams the provider response to the host, and persists the
// finished exchange. Each in-flight request is tracked by id so the host
// can cancel one without touching the others.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/config"
	"github.com/digo9606/Notate-sub000/internal/agent"
	"github.com/digo9606/Notate-sub000/internal/budget"
	"github.com/digo9606/Notate-sub000/internal/prompt"
	"github.com/digo9606/Notate-sub000/internal/reasoning"
	"github.com/digo9606/Notate-sub000/provider"
	"github.com/digo9606/Notate-sub000/retrieval"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Events receives streaming callbacks keyed by request id. Implementations
// belong to the host UI; all methods may be called from the request's
// goroutine and must not block for long.
type Events interface {
	// OnMessageChunk delivers one incremental fragment of output. During
	// the reasoning pre-pass, fragments arrive prefixed with
	// reasoning.ChunkPrefix.
	OnMessageChunk(requestID, text string)

	// OnReasoningChunk delivers native reasoning-channel deltas for models
	// that interleave reasoning with content in one stream.
	OnReasoningChunk(requestID, text string)

	// OnReasoningEnd fires once when the reasoning pre-pass finishes,
	// before the main stream starts.
	OnReasoningEnd(requestID string)

	// OnStreamEnd fires exactly once when the main stream finishes,
	// whether it completed, failed, or was aborted.
	OnStreamEnd(requestID string)
}

// Sink is the persistence and configuration surface the orchestrator
// consumes. *store.Store satisfies it.
type Sink interface {
	UserSettings(userID int64) (chat.Settings, error)
	UserName(userID int64) (string, error)
	UserPrompt(userID, promptID int64) (string, error)
	Collection(collectionID int64) (*chat.Collection, error)
	AddConversation(userID int64, title string) (int64, error)
	ConversationTitle(conversationID int64) (string, error)
	AddMessage(userID, conversationID int64, msg chat.Message, collectionID int64) (int64, error)
	AddRetrievedData(messageID int64, payload *chat.RetrievalPayload) error
	LocalToken(userID int64) (string, error)
}

// Response is the finalized outcome of one chat request.
type Response struct {
	ConversationID int64
	Messages       []chat.Message
	Title          string
	Content        string
	Reasoning      string
	Aborted        bool
}

// =============================================================================
// USER-FACING ERROR MASKING
// =============================================================================

// Raw errors never reach the user mid-conversation; they are masked with a
// remediation message and logged instead.
const (
	remediationText  = "Please add an API key and select an AI Model in Settings."
	remediationTitle = "Need API Key"

	fallbackTitle = "New Conversation"
)

func unauthorizedText() string {
	logPath := "~/.config/notate/main.log"
	if home, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "darwin":
			logPath = home + "/Library/Application Support/notate/main.log"
		case "windows":
			logPath = home + "\\AppData\\Roaming\\notate\\main.log"
		default:
			logPath = home + "/.config/notate/main.log"
		}
	}
	return "There is an issue with the SECRET_KEY not being in sync across the front/backend.\n\n" +
		"Please try the following steps:\n" +
		"1. Restart your PC\n" +
		"2. If the issue persists, check your logs at:\n   " + logPath + "\n\n" +
		"3. Open a GitHub issue at https://github.com/CNTRLAI/notate and include your logs"
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine orchestrates chat requests.
type Engine struct {
	cfg       *config.Config
	registry  *provider.Registry
	sink      Sink
	retriever retrieval.Client
	webAgent  *agent.Agent
	events    Events
	logger    *logrus.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func New(cfg *config.Config, registry *provider.Registry, sink Sink, retriever retrieval.Client, webAgent *agent.Agent, events Events, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		sink:      sink,
		retriever: retriever,
		webAgent:  webAgent,
		events:    events,
		logger:    logger,
		inflight:  make(map[string]context.CancelFunc),
	}
}

// Cancel aborts the in-flight request with the given id. Unknown or
// already-finished ids are a no-op, so duplicate cancels are safe.
func (e *Engine) Cancel(requestID string) {
	e.mu.Lock()
	cancel, ok := e.inflight[requestID]
	if ok {
		delete(e.inflight, requestID)
	}
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) track(requestID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inflight[requestID] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(requestID string) {
	e.mu.Lock()
	delete(e.inflight, requestID)
	e.mu.Unlock()
}

// Event emit helpers tolerate a nil Events implementation.

func (e *Engine) emitChunk(requestID, text string) {
	if e.events != nil && text != "" {
		e.events.OnMessageChunk(requestID, text)
	}
}

func (e *Engine) emitReasoningChunk(requestID, text string) {
	if e.events != nil && text != "" {
		e.events.OnReasoningChunk(requestID, text)
	}
}

func (e *Engine) emitReasoningEnd(requestID string) {
	if e.events != nil {
		e.events.OnReasoningEnd(requestID)
	}
}

func (e *Engine) emitStreamEnd(requestID string) {
	if e.events != nil {
		e.events.OnStreamEnd(requestID)
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit runs one chat request to completion and returns the finalized
// message list. Errors that would otherwise surface a stack trace to the
// user come back as a Response carrying a remediation message; Submit only
// returns a non-nil error for programmer mistakes (empty request).
func (e *Engine) Submit(ctx context.Context, req chat.Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("request has no messages")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.track(req.RequestID, cancel)
	defer func() {
		e.untrack(req.RequestID)
		cancel()
	}()

	// Every outcome ends the stream exactly once, so a host that already
	// received chunks is never left waiting for the end signal.
	var endOnce sync.Once
	endStream := func() {
		endOnce.Do(func() { e.emitStreamEnd(req.RequestID) })
	}
	defer endStream()

	log := e.logger.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"user_id":    req.UserID,
	})

	settings, err := e.sink.UserSettings(req.UserID)
	if err != nil {
		log.WithError(err).Error("loading user settings failed")
		return e.failed(req), nil
	}

	adapter, err := e.registry.Get(settings.Provider)
	if err != nil {
		log.WithError(err).Error("no adapter for selected provider")
		return e.failed(req), nil
	}
	caps := adapter.Capabilities()

	// Resolve the conversation and its title. The first turn creates the
	// conversation and generates a title with a short dedicated call.
	conversationID, title := req.ConversationID, req.Title
	if conversationID == 0 {
		title = e.generateTitle(ctx, adapter, req, settings)
		conversationID, err = e.sink.AddConversation(req.UserID, title)
		if err != nil {
			log.WithError(err).Error("creating conversation failed")
			return e.failed(req), nil
		}
	} else if title == "" {
		if stored, err := e.sink.ConversationTitle(conversationID); err == nil {
			title = stored
		} else {
			title = truncateTitle(chat.LastUserContent(req.Messages))
		}
	}

	// Retrieval runs before everything else so its passages can feed both
	// the reasoning pre-pass and the main prompt.
	var (
		payload    *chat.RetrievalPayload
		collection *chat.Collection
	)
	if req.CollectionID != 0 {
		payload, collection, err = e.retrieve(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return e.aborted(req, conversationID, title, "", ""), nil
			}
			if errors.Is(err, retrieval.ErrUnauthorized) {
				log.Error("vector store rejected session token")
				return e.syntheticReply(req, conversationID, unauthorizedText(), remediationTitle), nil
			}
			log.WithError(err).Error("vectorstore query failed")
			return e.syntheticReply(req, conversationID,
				fmt.Sprintf("Error in vectorstore query: %v", err), "Error in vectorstore query"), nil
		}
	}

	// Web agent: best effort, failures degrade inside Run.
	var webResult *chat.WebResult
	rationale := ""
	if settings.WebEnabled && e.webAgent != nil {
		outcome := e.webAgent.Run(ctx, adapter, req.UserID, req.Messages, settings)
		webResult = outcome.Web
		rationale = outcome.Rationale
	}
	if ctx.Err() != nil {
		return e.aborted(req, conversationID, title, "", ""), nil
	}

	pctx := prompt.Context{
		Retrieval:  payload,
		Collection: collection,
		Web:        webResult,
	}

	// Reasoning pre-pass. Models with a native reasoning channel skip it;
	// their reasoning arrives demultiplexed from the main stream instead.
	reasoningText := ""
	if settings.CoTEnabled && !caps.NativeReasoning {
		reasoningText, err = reasoning.Run(ctx, adapter, reasoning.Input{
			UserID:    req.UserID,
			Messages:  req.Messages,
			Settings:  settings,
			Context:   pctx,
			Rationale: rationale,
			MaxTotal:  e.cfg.Budget.MaxTotalTokens,
		}, func(chunk string) { e.emitChunk(req.RequestID, chunk) })
		e.emitReasoningEnd(req.RequestID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return e.aborted(req, conversationID, title, "", reasoningText), nil
			}
			log.WithError(err).Error("reasoning pre-pass failed")
			return e.failed(req), nil
		}
		pctx.Reasoning = reasoningText
	}

	// Prompt assembly and budgeting.
	basePrompt, err := e.sink.UserPrompt(req.UserID, settings.PromptID)
	if err != nil {
		log.WithError(err).Warn("loading persona prompt failed, continuing without it")
	}
	sysPrompt := prompt.BuildSystem(basePrompt, pctx)

	tagged := prompt.TagMessages(req.Messages)
	truncated, err := budget.Truncate(tagged, sysPrompt, settings.MaxOutputTokens(), e.cfg.Budget.MaxTotalTokens, caps)
	if err != nil {
		log.WithError(err).Error("history cannot satisfy provider message pattern")
		return e.failed(req), nil
	}

	// Main stream.
	result, err := adapter.Stream(ctx, provider.ChatInput{
		UserID:       req.UserID,
		Messages:     truncated,
		SystemPrompt: sysPrompt,
		Settings:     settings,
		MaxOutput:    settings.MaxOutputTokens(),
	}, provider.ChunkSink{
		OnContent:   func(text string) { e.emitChunk(req.RequestID, text) },
		OnReasoning: func(text string) { e.emitReasoningChunk(req.RequestID, text) },
	})
	endStream()
	if err != nil {
		var se *provider.StreamError
		if errors.As(err, &se) && se.Partial != "" {
			// The user already saw the partial text; keep it.
			log.WithError(se.Err).Error("stream failed mid-response, persisting partial")
			return e.finish(req, conversationID, title, se.Partial, firstNonEmpty(reasoningText, se.Reasoning), payload, false), nil
		}
		log.WithError(err).Error("provider stream failed")
		return e.failed(req), nil
	}

	if result.Reasoning != "" {
		reasoningText = result.Reasoning
	}
	if result.Aborted {
		return e.aborted(req, conversationID, title, result.Content, reasoningText), nil
	}
	return e.finish(req, conversationID, title, result.Content, reasoningText, payload, false), nil
}

// =============================================================================
// STAGES
// =============================================================================

// generateTitle names a new conversation from its first message. Failures
// fall back rather than failing the request.
func (e *Engine) generateTitle(ctx context.Context, adapter provider.Adapter, req chat.Request, settings chat.Settings) string {
	input := chat.LastUserContent(req.Messages)
	title, err := adapter.GenerateTitle(ctx, req.UserID, settings, input)
	if err != nil || title == "" {
		if err != nil {
			e.logger.WithError(err).Warn("title generation failed")
		}
		if title = truncateTitle(input); title == "" {
			title = fallbackTitle
		}
	}
	return title
}

func (e *Engine) retrieve(ctx context.Context, req chat.Request) (*chat.RetrievalPayload, *chat.Collection, error) {
	collection, err := e.sink.Collection(req.CollectionID)
	if err != nil {
		return nil, nil, err
	}
	token, err := e.sink.LocalToken(req.UserID)
	if err != nil {
		return nil, nil, err
	}
	userName, err := e.sink.UserName(req.UserID)
	if err != nil {
		return nil, nil, err
	}
	payload, err := e.retriever.Query(ctx, token, retrieval.Query{
		Text:           chat.LastUserContent(req.Messages),
		UserID:         req.UserID,
		UserName:       userName,
		CollectionID:   collection.ID,
		CollectionName: collection.Name,
	})
	if err != nil {
		return nil, nil, err
	}
	return payload, collection, nil
}

// =============================================================================
// OUTCOMES
// =============================================================================

// finish persists the exchange in order (user turn, assistant turn,
// retrieval payload) and builds the final response. Persistence errors are
// logged, not surfaced: the user already has the streamed text.
func (e *Engine) finish(req chat.Request, conversationID int64, title, content, reasoningText string, payload *chat.RetrievalPayload, aborted bool) *Response {
	userMsg := chat.NewUserMessage(chat.LastUserContent(req.Messages))
	if _, err := e.sink.AddMessage(req.UserID, conversationID, userMsg, req.CollectionID); err != nil {
		e.logger.WithError(err).Error("persisting user message failed")
	}

	assistant := chat.NewAssistantMessage(content)
	assistant.ReasoningContent = reasoningText
	msgID, err := e.sink.AddMessage(req.UserID, conversationID, assistant, req.CollectionID)
	if err != nil {
		e.logger.WithError(err).Error("persisting assistant message failed")
	} else if payload != nil {
		if err := e.sink.AddRetrievedData(msgID, payload); err != nil {
			e.logger.WithError(err).Error("persisting retrieval payload failed")
		}
	}

	return &Response{
		ConversationID: conversationID,
		Messages:       append(append([]chat.Message{}, req.Messages...), assistant),
		Title:          title,
		Content:        content,
		Reasoning:      reasoningText,
		Aborted:        aborted,
	}
}

// aborted persists whatever partial content was streamed and tags the
// response so the UI can distinguish "cancelled" from "completed".
func (e *Engine) aborted(req chat.Request, conversationID int64, title, partial, reasoningText string) *Response {
	return e.finish(req, conversationID, title, partial, reasoningText, nil, true)
}

// failed masks an unhandled error with a single remediation message. The
// exchange is not persisted.
func (e *Engine) failed(req chat.Request) *Response {
	assistant := chat.NewAssistantMessage(remediationText)
	return &Response{
		ConversationID: -1,
		Messages:       append(append([]chat.Message{}, req.Messages...), assistant),
		Title:          remediationTitle,
		Content:        remediationText,
	}
}

// syntheticReply returns a response whose last entry is a synthetic
// assistant message, without persisting anything.
func (e *Engine) syntheticReply(req chat.Request, conversationID int64, content, title string) *Response {
	assistant := chat.NewAssistantMessage(content)
	return &Response{
		ConversationID: conversationID,
		Messages:       append(append([]chat.Message{}, req.Messages...), assistant),
		Title:          title,
		Content:        content,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) > 20 {
		return string(runes[:20])
	}
	return s
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
