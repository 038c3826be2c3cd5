package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/elberrd/pricewatch/internal/scraper"
)

const defaultModel = "gemini-2.0-flash"

const systemInstruction = `You extract product data from e-commerce page HTML.
Respond with a single JSON object and nothing else. Use these keys when
the page provides them: productTitle (string), currentPrice (number),
originalPrice (number), currency (string), availability (string),
brand (string), seller (string), rating (number), reviewCount (number),
imageUrl (string). Prices are plain numbers without currency symbols or
thousands separators. Omit keys you cannot determine. If the page shows
no product at all, respond with {}.`

// GeminiConfig tunes the extraction model.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	MaxChars    int
}

// GeminiExtractor implements scraper.Extractor with the Gemini API.
type GeminiExtractor struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *zap.Logger
}

// NewGeminiExtractor builds the extraction client.
func NewGeminiExtractor(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiExtractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiExtractor{client: client, cfg: cfg, logger: logger}, nil
}

// Extract cleans the HTML, prompts the model, and decodes the returned
// JSON object into a field map.
func (e *GeminiExtractor) Extract(ctx context.Context, html, sourceURL string) (map[string]any, error) {
	cleaned := CleanHTML(html, e.cfg.MaxChars)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf("Page URL: %s\n\nHTML:\n%s", sourceURL, cleaned)
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(e.cfg.Temperature),
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.cfg.Model, []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(prompt)},
		},
	}, config)
	if err != nil {
		return nil, &scraper.ExtractionError{Reason: fmt.Sprintf("model call failed: %v", err)}
	}

	text := responseText(resp)
	if text == "" {
		return nil, &scraper.ExtractionError{Reason: "model returned no text"}
	}

	fields, err := ParseModelJSON(text)
	if err != nil {
		return nil, &scraper.ExtractionError{Reason: err.Error()}
	}
	if !scraper.HasPrice(fields) {
		return nil, &scraper.ExtractionError{Reason: "no usable price in extracted fields"}
	}

	e.logger.Debug("extraction complete",
		zap.String("url", sourceURL),
		zap.Int("fields", len(fields)),
	)
	return fields, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// ParseModelJSON decodes a model reply into a field map, tolerating
// markdown code fences around the object.
func ParseModelJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("model reply is not a JSON object: %w", err)
	}
	return fields, nil
}
