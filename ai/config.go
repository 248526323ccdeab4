// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"errors"
	"strings"
)

// DefaultDescriptionPrompt asks the vision model for a description that
// captures what distinguishes one product photo from another.
const DefaultDescriptionPrompt = "Describe the product shown in this image in one paragraph. " +
	"Mention the type of object, its colors, materials, shape, visible text or logos, " +
	"and any distinguishing details. Do not describe the background."

// Config holds configuration for AI service providers.
type Config struct {
	// DescriberHost is the base URL for the vision service API.
	// Example: "http://localhost:11434/v1" for a local OpenAI-compatible server
	DescriberHost string

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for a local OpenAI-compatible server
	EmbeddingHost string

	// DescriberModel is the vision model used to describe images.
	// Example: "llava", "gpt-4o-mini"
	DescriberModel string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// APIToken is sent as the bearer token. Local servers accept any value.
	APIToken string

	// DescriptionPrompt is the instruction sent alongside each image.
	DescriptionPrompt string

	// MaxDescriptionTokens caps the length of generated descriptions.
	// Default: 300
	MaxDescriptionTokens int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithDescriberHost sets the vision service host URL.
func WithDescriberHost(host string) ConfigOption {
	return func(c *Config) {
		c.DescriberHost = host
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithHost sets both describer and embedding hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.DescriberHost = host
		c.EmbeddingHost = host
	}
}

// WithDescriberModel sets the vision model identifier.
func WithDescriberModel(model string) ConfigOption {
	return func(c *Config) {
		c.DescriberModel = model
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithAPIToken sets the API token.
func WithAPIToken(token string) ConfigOption {
	return func(c *Config) {
		c.APIToken = token
	}
}

// WithDescriptionPrompt replaces the instruction sent with each image.
func WithDescriptionPrompt(prompt string) ConfigOption {
	return func(c *Config) {
		c.DescriptionPrompt = prompt
	}
}

// WithMaxDescriptionTokens sets the description length cap.
func WithMaxDescriptionTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxDescriptionTokens = n
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
// By default, both describer and embedder use the same host.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		DescriberHost:        defaultHost,
		EmbeddingHost:        defaultHost,
		DescriberModel:       "llava",
		EmbeddingModel:       "embeddinggemma",
		APIToken:             "none",
		DescriptionPrompt:    DefaultDescriptionPrompt,
		MaxDescriptionTokens: 300,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithDescriberModel("llava:13b"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.DescriberHost = normalizeHost(c.DescriberHost)
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	if c.APIToken == "" {
		c.APIToken = "none"
	}
	if c.DescriptionPrompt == "" {
		c.DescriptionPrompt = DefaultDescriptionPrompt
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.DescriberHost == "" {
		return errors.New("ai config: DescriberHost is required")
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.DescriberModel == "" {
		return errors.New("ai config: DescriberModel is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.MaxDescriptionTokens < 1 {
		return errors.New("ai config: MaxDescriptionTokens must be positive")
	}
	return nil
}
