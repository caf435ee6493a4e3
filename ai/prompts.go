package ai

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/reconic/backend/project"
	"github.com/reconic/backend/store"
)

// maxContextTitles caps the recent titles included in a channel context.
const maxContextTitles = 20

var printer = message.NewPrinter(language.English)

func parseProjectPrompt(vision string) string {
	return `You are helping a YouTube creator set up a new video project.

The creator described their video idea like this:
"` + vision + `"

Reply with valid JSON only, no markdown and no explanation, in this shape:
{
  "title": "a short internal project name of 3 to 6 words, like a folder name rather than a YouTube title",
  "topic": "one sentence on what the video is about from the viewer's point of view",
  "description": "2 to 3 sentences covering the angle, the format and why it is worth watching"
}

Rules:
- title: plain and recognizable in a list, no clickbait, no special characters
- topic: specific, opening with a verb or noun rather than "This video"
- description: keep the hook and the creator's intent`
}

func suggestionsPrompt(req SuggestionsRequest) string {
	words := req.Duration * project.WordsPerMinute
	var b strings.Builder
	fmt.Fprintf(&b, "You are a YouTube content strategist for longform video (%d-minute target, about %d words).\n\n", req.Duration, words)
	fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(req.Topic))
	if d := strings.TrimSpace(req.Description); d != "" {
		fmt.Fprintf(&b, "Description: %s\n", d)
	}
	personalized := req.ChannelContext != ""
	if personalized {
		b.WriteString(req.ChannelContext)
		b.WriteString("\n")
	}
	b.WriteString("\nGuidelines:\n")
	b.WriteString("- titles: 5 specific, curiosity-driven titles with real substance behind them")
	if personalized {
		b.WriteString(", in the creator's existing naming style and niche")
	}
	b.WriteString("\n- thumbnailConcepts: 3 concepts of 1-2 sentences each covering layout, text overlay and style\n")
	fmt.Fprintf(&b, "- scriptOutline: act-structured sections with time allocations such as \"Hook (0:00-1:30): open on the core problem\", spanning the full %d minutes\n", req.Duration)
	b.WriteString("- hookVariants: 3 opening hooks of 2-3 sentences, one built on a personal story, one on a striking statistic, one on a bold claim")
	if personalized {
		b.WriteString(", pitched at the creator's audience")
	}
	b.WriteString("\n- chapterMarkers: 5-8 chapter timestamps formatted like \"0:00 Introduction\" or \"2:30 The Core Problem\"\n")
	return b.String()
}

func analyzeChannelPrompt(in ChannelSummary) string {
	var b strings.Builder
	b.WriteString("Analyze this YouTube channel from its recent video titles and determine its niche, content style and target audience.\n\n")
	fmt.Fprintf(&b, "Channel: %s\n", in.Name)
	fmt.Fprintf(&b, "Subscriber count: %d\n", in.SubscriberCount)
	b.WriteString("Recent video titles:\n")
	for i, t := range in.Titles {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	fmt.Fprintf(&b, "\nFrequent keywords: %s", strings.Join(in.TopTags, ", "))
	return b.String()
}

// ChannelContext summarizes a linked channel for personalized prompts. It is
// empty unless the channel has been analyzed (has a niche).
func ChannelContext(a *store.Account) string {
	if a == nil || a.Niche == nil || *a.Niche == "" {
		return ""
	}
	lines := []string{
		fmt.Sprintf("\nCreator profile (%s):", a.ChannelName),
		"- Niche: " + *a.Niche,
	}
	if a.SubscriberCount > 0 {
		lines = append(lines, printer.Sprintf("- Subscribers: %d", a.SubscriberCount))
	}
	if a.AvgVideoDurationSeconds != nil && *a.AvgVideoDurationSeconds > 0 {
		mins := int(math.Round(float64(*a.AvgVideoDurationSeconds) / 60))
		lines = append(lines, fmt.Sprintf("- Typical video length: ~%d minutes", mins))
	}
	if a.UploadFrequency != nil && *a.UploadFrequency != "" {
		lines = append(lines, "- Upload cadence: "+*a.UploadFrequency)
	}
	if len(a.TopTags) > 0 {
		lines = append(lines, "- Recurring topics/keywords: "+strings.Join(a.TopTags, ", "))
	}
	if len(a.RecentVideoTitles) > 0 {
		titles := a.RecentVideoTitles
		if len(titles) > maxContextTitles {
			titles = titles[:maxContextTitles]
		}
		recent := make([]string, len(titles))
		for i, t := range titles {
			recent[i] = fmt.Sprintf("  %d. %s", i+1, t)
		}
		lines = append(lines, "- Recent videos (avoid repeating them, match their naming style, look for gaps):\n"+strings.Join(recent, "\n"))
	}
	return strings.Join(lines, "\n")
}
