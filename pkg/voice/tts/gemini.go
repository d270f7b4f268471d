package tts

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/clara-health/prearrival/pkg/core"
)

// pcmSampleRate is the sample rate of raw audio returned by Gemini speech
// generation.
const pcmSampleRate = 24000

// GeminiConfig configures the Gemini synthesizer.
type GeminiConfig struct {
	APIKey string
	Model  string
	Voice  string
}

// DefaultGeminiConfig returns the standard speech model and voice.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey: apiKey,
		Model:  "gemini-2.5-flash-preview-tts",
		Voice:  "Sulafat",
	}
}

// Gemini synthesizes speech through the Gemini API.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGemini creates the client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, core.NewAuthenticationError("gemini api key is required")
	}
	if cfg.Model == "" || cfg.Voice == "" {
		return nil, core.NewInvalidRequestError("model and voice are required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

// Synthesize implements Synthesizer.
func (g *Gemini) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: text}},
	}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: g.cfg.Voice,
				},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return nil, core.NewProviderError("gemini-tts", err)
	}

	blob := firstAudioBlob(resp)
	if blob == nil || len(blob.Data) == 0 {
		return nil, core.NewProviderError("gemini-tts", fmt.Errorf("no audio in response"))
	}

	synth := &Synthesis{
		Audio:    blob.Data,
		MIMEType: blob.MIMEType,
	}
	if IsPCMMIME(blob.MIMEType) {
		synth.PCM = true
		synth.SampleRate = pcmSampleRate
	}
	return synth, nil
}

func firstAudioBlob(resp *genai.GenerateContentResponse) *genai.Blob {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}
