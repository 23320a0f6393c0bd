package comparison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

const systemInstruction = `You are SmartBot, a grocery price comparison assistant for shoppers in Malaysia.
Given a product and a list of stores, reply with a single JSON object and nothing else:
{"text": string, "comparisonData": {"productName": string, "productImage": string,
"stores": [{"storeName": string, "storeIcon": "storefront", "price": number, "currency": "RM"}],
"recommendations": [string]}}
List the stores in the order given. If the request is not about a product, reply with
{"text": "<a short helpful answer>"} and omit comparisonData.`

// contentGenerator is the part of *genai.Models the Gemini variant calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks a Gemini model for a JSON comparison.
type Gemini struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini-backed Service. model defaults to
// gemini-2.5-flash.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("comparison: gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("comparison: creating gemini client: %w", err)
	}
	return newGemini(client.Models, model, logger), nil
}

func newGemini(models contentGenerator, model string, logger *slog.Logger) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{models: models, model: model, logger: logger}
}

func (g *Gemini) GenerateComparison(ctx context.Context, prompt string, storeNames []string) (*Result, error) {
	user := fmt.Sprintf("Product: %s\nStores: %s", prompt, strings.Join(storeNames, ", "))

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("comparison: gemini generate: %w", err)
	}

	raw := resp.Text()
	res := ParseResult(raw)
	if res.Text == FallbackText {
		g.logger.WarnContext(ctx, "gemini reply not readable, using fallback",
			slog.String("model", g.model),
			slog.Int("bytes", len(raw)),
		)
	}
	return res, nil
}
