package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/imgmatch/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyDescription is returned when the vision model produces no text.
var ErrEmptyDescription = errors.New("vision model returned no description")

// Describer implements ai.Describer using OpenAI-compatible chat APIs with image input.
type Describer struct {
	client    llms.Model
	prompt    string
	maxTokens int
	logger    *slog.Logger
}

// newDescriber is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newDescriber(config *ai.Config) (*Describer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.DescriberHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.DescriberModel),
	)
	if err != nil {
		return nil, err
	}

	return &Describer{
		client:    client,
		prompt:    config.DescriptionPrompt,
		maxTokens: config.MaxDescriptionTokens,
		logger:    slog.Default().With("component", "openai-describer"),
	}, nil
}

// NewDescriber creates a new image describer using the provided configuration.
//
// Returns ai.Describer interface to enforce abstraction.
func NewDescriber(config *ai.Config) (ai.Describer, error) {
	return newDescriber(config)
}

// DescribeImage sends the image with the configured prompt and returns the
// model's answer with whitespace collapsed.
func (d *Describer) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	d.logger.Debug("describing image", "bytes", len(image), "mime", mimeType)

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(d.prompt),
				llms.BinaryPart(mimeType, image),
			},
		},
	}

	response, err := d.client.GenerateContent(ctx, content,
		llms.WithTemperature(0.0),
		llms.WithMaxTokens(d.maxTokens),
	)
	if err != nil {
		d.logger.Error("failed to generate description", "err", err)
		return "", err
	}

	if len(response.Choices) < 1 {
		d.logger.Warn("no choices returned from model")
		return "", ErrEmptyDescription
	}

	description := cleanDescription(response.Choices[0].Content)
	if description == "" {
		return "", ErrEmptyDescription
	}
	return description, nil
}
