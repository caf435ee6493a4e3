package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/reconic/backend/project"
)

var (
	ErrNotConfigured = errors.New("ai not configured")
	ErrMissingVision = errors.New("missing vision")
	ErrMissingTopic  = errors.New("missing topic")
	ErrNoTitles      = errors.New("no video titles to analyze")
)

// Service runs the creator-facing prompts against a Generator.
type Service struct {
	gen    Generator
	logger *slog.Logger
}

// NewService returns a Service. A nil gen makes every call fail with ErrNotConfigured.
func NewService(gen Generator) *Service {
	return &Service{gen: gen, logger: slog.Default().With(slog.String("component", "ai"))}
}

// Ready reports whether a generator is configured.
func (s *Service) Ready() bool { return s != nil && s.gen != nil }

// ProjectDraft is the project seed extracted from a free-form idea.
type ProjectDraft struct {
	Title       string `json:"title"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

var fences = regexp.MustCompile("```json\\n?|\\n?```")

// StripFences removes markdown code fences around a JSON reply.
func StripFences(s string) string {
	return strings.TrimSpace(fences.ReplaceAllString(s, ""))
}

// ParseProject turns a creator's description of a video idea into project fields.
func (s *Service) ParseProject(ctx context.Context, vision string) (*ProjectDraft, error) {
	vision = strings.TrimSpace(vision)
	if vision == "" {
		return nil, ErrMissingVision
	}
	if !s.Ready() {
		return nil, ErrNotConfigured
	}
	text, err := s.gen.GenerateText(ctx, parseProjectPrompt(vision))
	if err != nil {
		return nil, err
	}
	var d ProjectDraft
	if err := json.Unmarshal([]byte(StripFences(text)), &d); err != nil {
		return nil, fmt.Errorf("decode project draft: %w", err)
	}
	d.Title = truncate(strings.TrimSpace(d.Title), project.MaxTitleLen)
	d.Topic = truncate(strings.TrimSpace(d.Topic), project.MaxTopicLen)
	d.Description = truncate(strings.TrimSpace(d.Description), project.MaxDescriptionLen)
	return &d, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SuggestionsRequest is the input to StreamSuggestions.
type SuggestionsRequest struct {
	Topic          string
	Description    string
	Duration       int
	ChannelContext string
}

// StreamSuggestions streams the suggestions JSON text to emit as it is
// generated and returns the decoded object once the stream completes.
func (s *Service) StreamSuggestions(ctx context.Context, req SuggestionsRequest, emit func(chunk string) error) (*project.Suggestions, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, ErrMissingTopic
	}
	if !s.Ready() {
		return nil, ErrNotConfigured
	}
	if req.Duration <= 0 {
		req.Duration = project.DefaultDuration
	}
	var buf strings.Builder
	for chunk, err := range s.gen.StreamJSON(ctx, suggestionsPrompt(req), suggestionsSchema) {
		if err != nil {
			return nil, err
		}
		if chunk == "" {
			continue
		}
		buf.WriteString(chunk)
		if err := emit(chunk); err != nil {
			return nil, fmt.Errorf("write stream: %w", err)
		}
	}
	var out project.Suggestions
	if err := json.Unmarshal([]byte(StripFences(buf.String())), &out); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return &out, nil
}

// ChannelSummary is what AnalyzeChannel knows about a channel.
type ChannelSummary struct {
	Name            string
	SubscriberCount int64
	Titles          []string
	TopTags         []string
}

// ChannelProfile is the model's read of a channel.
type ChannelProfile struct {
	Niche          string   `json:"niche"`
	SubNiches      []string `json:"subNiches"`
	ContentStyle   string   `json:"contentStyle"`
	TargetAudience string   `json:"targetAudience"`
}

// AnalyzeChannel asks the model for the channel's niche, style and audience.
func (s *Service) AnalyzeChannel(ctx context.Context, in ChannelSummary) (*ChannelProfile, error) {
	if len(in.Titles) == 0 {
		return nil, ErrNoTitles
	}
	if !s.Ready() {
		return nil, ErrNotConfigured
	}
	text, err := s.gen.GenerateJSON(ctx, analyzeChannelPrompt(in), channelProfileSchema)
	if err != nil {
		return nil, err
	}
	var p ChannelProfile
	if err := json.Unmarshal([]byte(StripFences(text)), &p); err != nil {
		return nil, fmt.Errorf("decode channel profile: %w", err)
	}
	if p.SubNiches == nil {
		p.SubNiches = []string{}
	}
	return &p, nil
}
