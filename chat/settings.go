// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// Settings is the per-user configuration record consulted for a single chat
// request. Mutated only by explicit settings actions; read-only for the
// lifetime of a request.
type Settings struct {
	// Provider is the registry name of the selected backend
	// (e.g. "openai", "azure open ai", "ollama").
	Provider string `json:"provider"`

	// Model is the provider-specific model identifier.
	Model string `json:"model"`

	// Temperature for sampling. Zero means "use the fallback" (0.5).
	Temperature float64 `json:"temperature"`

	// MaxTokens caps generated output. Zero means the 4096 default.
	MaxTokens int `json:"max_tokens"`

	// CoTEnabled turns on the chain-of-thought pre-pass.
	CoTEnabled bool `json:"cot_enabled"`

	// WebEnabled turns on the web agent step.
	WebEnabled bool `json:"web_enabled"`

	// PromptID selects the stored persona prompt.
	PromptID int64 `json:"prompt_id"`

	// ReasoningEffort is sent instead of temperature for models that
	// take an effort parameter ("low", "medium", "high").
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// SelectedAzureID and SelectedCustomID point at the stored
	// endpoint+credential records for the azure/custom providers.
	SelectedAzureID  int64 `json:"selected_azure_id,omitempty"`
	SelectedCustomID int64 `json:"selected_custom_id,omitempty"`
}

// MaxOutputTokens returns the configured output cap, defaulting to 4096.
func (s Settings) MaxOutputTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return 4096
}

// SamplingTemperature returns the configured temperature, defaulting to 0.5.
func (s Settings) SamplingTemperature() float64 {
	if s.Temperature > 0 {
		return s.Temperature
	}
	return 0.5
}
