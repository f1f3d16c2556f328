// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/provider"
)

// webSearchToolID identifies the web search entry in user_tools.
const webSearchToolID = 1

// =============================================================================
// USERS
// =============================================================================

// CreateUser inserts a user with default settings and returns its id.
func (s *Store) CreateUser(name string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO users (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`INSERT INTO settings (user_id) VALUES (?)`, id); err != nil {
		return 0, fmt.Errorf("create default settings: %w", err)
	}
	return id, nil
}

// UserName returns the display name for the user.
func (s *Store) UserName(userID int64) (string, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM users WHERE id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("user name: %w", err)
	}
	return name, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// UserSettings returns the user's chat settings.
func (s *Store) UserSettings(userID int64) (chat.Settings, error) {
	var (
		out                       chat.Settings
		provider_, model, effort  sql.NullString
		promptID, azureID, custID sql.NullInt64
		temperature               sql.NullFloat64
		maxTokens                 sql.NullInt64
		cot                       sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT provider, model, prompt_id, temperature, max_tokens,
		       selected_azure_id, selected_custom_id, cot, reasoning_effort
		FROM settings WHERE user_id = ?`, userID).
		Scan(&provider_, &model, &promptID, &temperature, &maxTokens, &azureID, &custID, &cot, &effort)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("settings for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return out, fmt.Errorf("load settings: %w", err)
	}

	out.Provider = provider_.String
	out.Model = model.String
	out.PromptID = promptID.Int64
	out.Temperature = temperature.Float64
	out.MaxTokens = int(maxTokens.Int64)
	out.SelectedAzureID = azureID.Int64
	out.SelectedCustomID = custID.Int64
	out.CoTEnabled = cot.Int64 != 0
	out.ReasoningEffort = effort.String

	enabled, err := s.webSearchEnabled(userID)
	if err != nil {
		return out, err
	}
	out.WebEnabled = enabled
	return out, nil
}

// UpdateSettings overwrites the user's chat settings.
func (s *Store) UpdateSettings(userID int64, settings chat.Settings) error {
	_, err := s.db.Exec(`
		UPDATE settings SET provider = ?, model = ?, prompt_id = ?, temperature = ?,
		       max_tokens = ?, selected_azure_id = ?, selected_custom_id = ?, cot = ?,
		       reasoning_effort = ?
		WHERE user_id = ?`,
		settings.Provider, settings.Model, settings.PromptID, settings.Temperature,
		settings.MaxTokens, settings.SelectedAzureID, settings.SelectedCustomID,
		boolToInt(settings.CoTEnabled), settings.ReasoningEffort, userID)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func (s *Store) webSearchEnabled(userID int64) (bool, error) {
	var enabled int
	err := s.db.QueryRow(`SELECT enabled FROM user_tools WHERE user_id = ? AND tool_id = ?`,
		userID, webSearchToolID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user tools: %w", err)
	}
	return enabled != 0, nil
}

// SetWebSearchEnabled toggles the web search tool for a user.
func (s *Store) SetWebSearchEnabled(userID int64, enabled bool) error {
	res, err := s.db.Exec(`UPDATE user_tools SET enabled = ? WHERE user_id = ? AND tool_id = ?`,
		boolToInt(enabled), userID, webSearchToolID)
	if err != nil {
		return fmt.Errorf("update user tools: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.Exec(`INSERT INTO user_tools (user_id, tool_id, enabled) VALUES (?, ?, ?)`,
			userID, webSearchToolID, boolToInt(enabled))
		if err != nil {
			return fmt.Errorf("insert user tools: %w", err)
		}
	}
	return nil
}

// =============================================================================
// PROMPTS
// =============================================================================

// UserPrompt returns the persona prompt text for promptID, or "" when the
// user has none configured.
func (s *Store) UserPrompt(userID, promptID int64) (string, error) {
	if promptID == 0 {
		return "", nil
	}
	var text string
	err := s.db.QueryRow(`SELECT prompt FROM prompts WHERE id = ? AND user_id = ?`,
		promptID, userID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load prompt: %w", err)
	}
	return text, nil
}

// AddPrompt stores a persona prompt and returns its id.
func (s *Store) AddPrompt(userID int64, name, text string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO prompts (user_id, name, prompt) VALUES (?, ?, ?)`,
		userID, name, text)
	if err != nil {
		return 0, fmt.Errorf("add prompt: %w", err)
	}
	return res.LastInsertId()
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// SetAPIKey stores (or replaces) the user's key for a provider.
func (s *Store) SetAPIKey(userID int64, providerName, key string) error {
	if _, err := s.db.Exec(`DELETE FROM api_keys WHERE user_id = ? AND provider = ?`,
		userID, providerName); err != nil {
		return fmt.Errorf("replace api key: %w", err)
	}
	_, err := s.db.Exec(`INSERT INTO api_keys (user_id, key, provider) VALUES (?, ?, ?)`,
		userID, key, providerName)
	if err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// APIKey implements provider.CredentialResolver.
func (s *Store) APIKey(userID int64, providerName string) (string, error) {
	var key string
	err := s.db.QueryRow(`SELECT key FROM api_keys WHERE user_id = ? AND provider = ? ORDER BY id DESC LIMIT 1`,
		userID, providerName).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load api key: %w", err)
	}
	return key, nil
}

// AddAzureModel stores an Azure OpenAI deployment record.
func (s *Store) AddAzureModel(userID int64, name, model, endpoint, apiKey string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO azure_openai_models (user_id, name, model, endpoint, api_key) VALUES (?, ?, ?, ?, ?)`,
		userID, name, model, endpoint, apiKey)
	if err != nil {
		return 0, fmt.Errorf("add azure model: %w", err)
	}
	return res.LastInsertId()
}

// AzureCredential implements provider.CredentialResolver.
func (s *Store) AzureCredential(userID, selectedID int64) (*provider.AzureCredential, error) {
	var cred provider.AzureCredential
	err := s.db.QueryRow(`SELECT endpoint, api_key, model FROM azure_openai_models WHERE id = ? AND user_id = ?`,
		selectedID, userID).Scan(&cred.Endpoint, &cred.APIKey, &cred.Deployment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load azure credential: %w", err)
	}
	return &cred, nil
}

// AddCustomAPI stores a user-configured OpenAI-compatible endpoint.
func (s *Store) AddCustomAPI(userID int64, name, endpoint, apiKey string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO custom_api (user_id, name, endpoint, api_key) VALUES (?, ?, ?, ?)`,
		userID, name, endpoint, apiKey)
	if err != nil {
		return 0, fmt.Errorf("add custom api: %w", err)
	}
	return res.LastInsertId()
}

// CustomCredential implements provider.CredentialResolver.
func (s *Store) CustomCredential(userID, selectedID int64) (*provider.CustomCredential, error) {
	var cred provider.CustomCredential
	err := s.db.QueryRow(`SELECT endpoint, api_key FROM custom_api WHERE id = ? AND user_id = ?`,
		selectedID, userID).Scan(&cred.Endpoint, &cred.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load custom credential: %w", err)
	}
	return &cred, nil
}

// LocalToken implements provider.CredentialResolver by signing a fresh
// session token for the local services.
func (s *Store) LocalToken(userID int64) (string, error) {
	if s.issuer == nil {
		return "", errors.New("local session issuer not configured")
	}
	return s.issuer.Token(userID)
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// AddCollection stores a document collection record.
func (s *Store) AddCollection(userID int64, name, description string, files []string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO collections (user_id, name, description, files) VALUES (?, ?, ?, ?)`,
		userID, name, description, strings.Join(files, ","))
	if err != nil {
		return 0, fmt.Errorf("add collection: %w", err)
	}
	return res.LastInsertId()
}

// Collection returns a collection by id.
func (s *Store) Collection(collectionID int64) (*chat.Collection, error) {
	var (
		c     chat.Collection
		files sql.NullString
	)
	err := s.db.QueryRow(`SELECT id, name, description, files FROM collections WHERE id = ?`,
		collectionID).Scan(&c.ID, &c.Name, &c.Description, &files)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %d: %w", collectionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}
	if files.String != "" {
		c.Files = strings.Split(files.String, ",")
	}
	return &c, nil
}

// =============================================================================
// CONVERSATIONS & MESSAGES
// =============================================================================

// AddConversation creates a conversation and returns its id.
func (s *Store) AddConversation(userID int64, title string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO conversations (user_id, title) VALUES (?, ?)`, userID, title)
	if err != nil {
		return 0, fmt.Errorf("add conversation: %w", err)
	}
	return res.LastInsertId()
}

// ConversationTitle returns a conversation's title.
func (s *Store) ConversationTitle(conversationID int64) (string, error) {
	var title sql.NullString
	err := s.db.QueryRow(`SELECT title FROM conversations WHERE id = ?`, conversationID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load conversation title: %w", err)
	}
	return title.String, nil
}

// AddMessage appends a message to a conversation and returns the row id.
func (s *Store) AddMessage(userID, conversationID int64, msg chat.Message, collectionID int64) (int64, error) {
	var collection any
	if collectionID != 0 {
		collection = collectionID
	}
	var reasoning any
	if msg.ReasoningContent != "" {
		reasoning = msg.ReasoningContent
	}
	res, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, user_id, role, content, reasoning_content, collection_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, userID, string(msg.Role), msg.Content, reasoning, collection, msg.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("add message: %w", err)
	}
	return res.LastInsertId()
}

// Messages returns a conversation's messages in insertion order.
func (s *Store) Messages(conversationID int64) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, reasoning_content, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			m         chat.Message
			role      string
			reasoning sql.NullString
		)
		if err := rows.Scan(&role, &m.Content, &reasoning, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.ReasoningContent = reasoning.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddRetrievedData attaches a retrieval payload to a persisted message.
func (s *Store) AddRetrievedData(messageID int64, payload *chat.RetrievalPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal retrieval payload: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO retrieved_data (message_id, data_content) VALUES (?, ?)`,
		messageID, string(data))
	if err != nil {
		return fmt.Errorf("add retrieved data: %w", err)
	}
	return nil
}

// RetrievedData returns the payload attached to a message, or nil.
func (s *Store) RetrievedData(messageID int64) (*chat.RetrievalPayload, error) {
	var data string
	err := s.db.QueryRow(`SELECT data_content FROM retrieved_data WHERE message_id = ?`, messageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load retrieved data: %w", err)
	}
	var payload chat.RetrievalPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal retrieval payload: %w", err)
	}
	return &payload, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
