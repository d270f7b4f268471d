package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/clara-health/prearrival/pkg/core"
)

// FallbackSuggestion is shown when no suggestion can be generated.
const FallbackSuggestion = "• Review reported symptoms on arrival\n• Standard triage assessment\n• Verify medications and allergies"

const triagePrompt = `You are assisting an ER charge nurse. Based on the pre-arrival report below, suggest preparation steps as a short bullet list (3-5 bullets, one line each). Be specific to the reported condition. Do not diagnose.

Report:
%s`

// GeminiSuggester generates triage preparation suggestions.
type GeminiSuggester struct {
	client *genai.Client
	model  string
}

// NewGeminiSuggester creates the client. Model defaults to the flash model
// used elsewhere.
func NewGeminiSuggester(ctx context.Context, apiKey, model string) (*GeminiSuggester, error) {
	if apiKey == "" {
		return nil, core.NewAuthenticationError("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiSuggester{client: client, model: model}, nil
}

// Suggest implements Suggester.
func (g *GeminiSuggester) Suggest(ctx context.Context, rep map[string]string) (string, error) {
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: fmt.Sprintf(triagePrompt, renderReport(rep))}},
	}}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.3),
		MaxOutputTokens: 300,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", core.NewProviderError("gemini", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", core.NewProviderError("gemini", fmt.Errorf("empty suggestion"))
	}
	return text, nil
}

func renderReport(rep map[string]string) string {
	keys := make([]string, 0, len(rep))
	for k := range rep {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, rep[k])
	}
	return b.String()
}
