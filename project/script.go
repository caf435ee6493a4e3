package project

import (
	"regexp"
	"strings"
)

// WordsPerMinute is the speaking pace used for reading-time estimates.
const WordsPerMinute = 130

// ReplaceConfirmWords is the script size at which applying a template needs confirmation.
const ReplaceConfirmWords = 30

var targetWords = map[int]int{
	10: 1300,
	20: 2600,
	30: 3900,
	45: 5850,
}

// DefaultDuration is the target length in minutes when a project has none.
const DefaultDuration = 20

// ValidDuration reports whether minutes is one of the offered target lengths.
func ValidDuration(minutes int) bool {
	_, ok := targetWords[minutes]
	return ok
}

// TargetWords returns the word goal for a target length in minutes.
func TargetWords(minutes int) int {
	if w, ok := targetWords[minutes]; ok {
		return w
	}
	return targetWords[DefaultDuration]
}

// WordCount counts whitespace-separated words.
func WordCount(script string) int {
	return len(strings.Fields(script))
}

// ReadingMinutes rounds the speaking time up to whole minutes.
func ReadingMinutes(words int) int {
	return (words + WordsPerMinute - 1) / WordsPerMinute
}

// BuildScriptTemplate turns an outline into a heading-per-section script skeleton.
func BuildScriptTemplate(outline []string) string {
	parts := make([]string, len(outline))
	for i, section := range outline {
		parts[i] = "## " + section + "\n\n\n"
	}
	return strings.Join(parts, "\n")
}

// NeedsReplaceConfirm reports whether overwriting script would discard real work.
func NeedsReplaceConfirm(script string) bool {
	return WordCount(script) >= ReplaceConfirmWords
}

var headingPrefix = regexp.MustCompile(`^#+\s*`)

// Chapters lists the "## " headings of a script in order.
func Chapters(script string) []string {
	var out []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "## ") {
			out = append(out, strings.TrimSpace(headingPrefix.ReplaceAllString(strings.TrimLeft(line, " \t"), "")))
		}
	}
	return out
}

// ScriptStats summarises a script against its target length.
type ScriptStats struct {
	Words          int      `json:"words"`
	ReadingMinutes int      `json:"readingMinutes"`
	TargetDuration int      `json:"targetDuration"`
	TargetWords    int      `json:"targetWords"`
	Progress       int      `json:"progress"`
	Chapters       []string `json:"chapters"`
	OutlineReady   bool     `json:"outlineReady"`
}

// Stats computes ScriptStats. outline is the AI outline, if any.
func Stats(script string, targetDuration *int, outline []string) ScriptStats {
	d := DefaultDuration
	if targetDuration != nil && ValidDuration(*targetDuration) {
		d = *targetDuration
	}
	words := WordCount(script)
	target := TargetWords(d)
	progress := (words*100 + target/2) / target
	if progress > 100 {
		progress = 100
	}
	chapters := Chapters(script)
	if chapters == nil {
		chapters = []string{}
	}
	return ScriptStats{
		Words:          words,
		ReadingMinutes: ReadingMinutes(words),
		TargetDuration: d,
		TargetWords:    target,
		Progress:       progress,
		Chapters:       chapters,
		OutlineReady:   len(outline) > 0 && words < ReplaceConfirmWords,
	}
}
