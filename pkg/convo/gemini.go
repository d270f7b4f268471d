package convo

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/clara-health/prearrival/pkg/core"
)

// GeminiConfig configures the Gemini-backed model.
type GeminiConfig struct {
	APIKey string
	Model  string

	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32

	// RetryDelay is the fixed wait before the single retry.
	RetryDelay time.Duration
}

// DefaultGeminiConfig returns the intake conversation tuning.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 500,
		RetryDelay:      time.Second,
	}
}

// GeminiModel implements Model over the Gemini API.
type GeminiModel struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGeminiModel creates the client.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, core.NewAuthenticationError("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, core.NewInvalidRequestErrorWithParam("model is required", "model")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiModel{cfg: cfg, client: client}, nil
}

// Generate implements Model. An empty history asks the model to open the
// conversation. Transient failures get exactly one retry after a fixed delay.
func (m *GeminiModel) Generate(ctx context.Context, system string, history []Turn, image *Image) (string, error) {
	contents, err := m.buildContents(history, image)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](m.cfg.Temperature),
		TopP:            genai.Ptr[float32](m.cfg.TopP),
		TopK:            genai.Ptr[float32](m.cfg.TopK),
		MaxOutputTokens: m.cfg.MaxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	text, err := m.generateOnce(ctx, contents, config)
	if err == nil {
		return text, nil
	}

	delay := m.cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(delay):
	}

	text, err = m.generateOnce(ctx, contents, config)
	if err != nil {
		return "", core.NewProviderError("gemini", err)
	}
	return text, nil
}

func (m *GeminiModel) generateOnce(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.cfg.Model, contents, config)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

func (m *GeminiModel) buildContents(history []Turn, image *Image) ([]*genai.Content, error) {
	if len(history) == 0 {
		return []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: "Start the conversation with your greeting."}},
		}}, nil
	}

	contents := make([]*genai.Content, 0, len(history))
	for i, turn := range history {
		role := genai.RoleUser
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}
		parts := []*genai.Part{{Text: turn.Text}}

		// Only the final turn may carry image bytes; earlier photo turns
		// stay text-only to keep request sizes bounded.
		if image != nil && i == len(history)-1 && turn.Role == RoleUser {
			data, err := base64.StdEncoding.DecodeString(image.Base64)
			if err != nil {
				return nil, core.NewInvalidRequestErrorWithParam("invalid image encoding", "image")
			}
			mime := image.MIMEType
			if mime == "" {
				mime = "image/jpeg"
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: mime, Data: data},
			})
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}
