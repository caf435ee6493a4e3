// Package ai proxies creator-facing generation to Gemini: turning a free-form
// video idea into project fields, streaming structured content suggestions,
// and profiling a channel from its recent uploads.
package ai

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"google.golang.org/genai"
)

// Generator produces model output for a prompt.
type Generator interface {
	// GenerateText returns the full reply.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateJSON returns a reply constrained to schema.
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
	// StreamJSON yields text chunks of a reply constrained to schema.
	StreamJSON(ctx context.Context, prompt string, schema *genai.Schema) iter.Seq2[string, error]
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// GeminiOptions overrides transport details, mostly for tests.
type GeminiOptions struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, apiKey, model string, opts GeminiOptions) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func jsonConfig(schema *genai.Schema) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
}

func (g *Gemini) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

func (g *Gemini) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), jsonConfig(schema))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

func (g *Gemini) StreamJSON(ctx context.Context, prompt string, schema *genai.Schema) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), jsonConfig(schema)) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}

func stringArray(desc string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: desc,
		Items:       &genai.Schema{Type: genai.TypeString},
	}
}

func stringField(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

var suggestionsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"titles":            stringArray("5 compelling YouTube video titles"),
		"thumbnailConcepts": stringArray("3 thumbnail concept descriptions"),
		"scriptOutline":     stringArray("Act-structured sections with time allocations"),
		"hookVariants":      stringArray("3 alternative opening hooks"),
		"chapterMarkers":    stringArray("YouTube chapter timestamps"),
	},
	Required:         []string{"titles", "thumbnailConcepts", "scriptOutline", "hookVariants", "chapterMarkers"},
	PropertyOrdering: []string{"titles", "thumbnailConcepts", "scriptOutline", "hookVariants", "chapterMarkers"},
}

var channelProfileSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"niche":          stringField("Primary content niche, e.g. 'tech reviews', 'personal finance', 'cooking'"),
		"subNiches":      stringArray("2-3 specific sub-topics the channel covers"),
		"contentStyle":   stringField("Short description of the creator's style, e.g. 'educational with humor'"),
		"targetAudience": stringField("Who the content is for, e.g. 'beginner developers'"),
	},
	Required: []string{"niche", "subNiches", "contentStyle", "targetAudience"},
}
