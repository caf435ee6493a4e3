// Package project holds the video project record and the rules derived from it:
// lifecycle status, presence-aware partial updates, script statistics and the
// production checklists parsed out of a script.
package project

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is a project's lifecycle stage.
type Status string

const (
	StatusIdea      Status = "idea"
	StatusPlanning  Status = "planning"
	StatusScripting Status = "scripting"
	StatusFilming   Status = "filming"
	StatusEditing   Status = "editing"
	StatusPublished Status = "published"
)

var statusLabels = map[Status]string{
	StatusIdea:      "Idea",
	StatusPlanning:  "Planning",
	StatusScripting: "Scripting",
	StatusFilming:   "Filming",
	StatusEditing:   "Editing",
	StatusPublished: "Published",
}

// Label returns the display label for s.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// IsManual reports whether s is a phase the creator sets by hand.
func (s Status) IsManual() bool {
	return s == StatusFilming || s == StatusEditing || s == StatusPublished
}

// Suggestions is the structured AI output attached to a project.
type Suggestions struct {
	Titles            []string `json:"titles"`
	ThumbnailConcepts []string `json:"thumbnailConcepts"`
	ScriptOutline     []string `json:"scriptOutline"`
	HookVariants      []string `json:"hookVariants"`
	ChapterMarkers    []string `json:"chapterMarkers"`
}

// Empty reports whether no suggestion was generated.
func (s *Suggestions) Empty() bool {
	return s == nil || len(s.Titles)+len(s.ThumbnailConcepts)+len(s.ScriptOutline)+len(s.HookVariants)+len(s.ChapterMarkers) == 0
}

// Project is a single video's working record.
type Project struct {
	ID             string          `json:"id"`
	UserID         string          `json:"-"`
	Title          string          `json:"title"`
	Topic          string          `json:"topic"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ChosenTitle    *string         `json:"chosenTitle,omitempty"`
	Status         *Status         `json:"status,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	TargetDuration *int            `json:"targetDuration,omitempty"`
	Script         *string         `json:"script,omitempty"`
	AISuggestions  *Suggestions    `json:"aiSuggestions,omitempty"`
	BrollChecks    map[string]bool `json:"brollChecks,omitempty"`
	EditorNotes    *string         `json:"editorNotes,omitempty"`
	YouTubeVideoID *string         `json:"youtubeVideoId,omitempty"`
}

// NewProject is the input for creating a project.
type NewProject struct {
	Title          string `json:"title"`
	Topic          string `json:"topic"`
	Description    string `json:"description"`
	TargetDuration *int   `json:"targetDuration,omitempty"`
}

const (
	MaxTitleLen       = 100
	MaxTopicLen       = 200
	MaxDescriptionLen = 5000
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid project")

// Validate trims the input and checks lengths.
func (n *NewProject) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Topic = strings.TrimSpace(n.Topic)
	n.Description = strings.TrimSpace(n.Description)
	if n.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if err := checkLen("title", n.Title, MaxTitleLen); err != nil {
		return err
	}
	if err := checkLen("topic", n.Topic, MaxTopicLen); err != nil {
		return err
	}
	if err := checkLen("description", n.Description, MaxDescriptionLen); err != nil {
		return err
	}
	if n.TargetDuration != nil && !ValidDuration(*n.TargetDuration) {
		return fmt.Errorf("%w: targetDuration must be one of 10, 20, 30, 45", ErrInvalid)
	}
	return nil
}

func checkLen(field, v string, max int) error {
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalid, field, max)
	}
	return nil
}

// ComputeStatus derives the lifecycle stage. A manual phase always wins;
// otherwise the stage follows how far the work has progressed. localScript is
// an unsaved draft that counts as script content when non-blank.
func ComputeStatus(p *Project, localScript string) Status {
	if p.Status != nil && p.Status.IsManual() {
		return *p.Status
	}
	if strings.TrimSpace(localScript) != "" || (p.Script != nil && strings.TrimSpace(*p.Script) != "") {
		return StatusScripting
	}
	if !p.AISuggestions.Empty() || (p.ChosenTitle != nil && strings.TrimSpace(*p.ChosenTitle) != "") {
		return StatusPlanning
	}
	return StatusIdea
}

// TogglePhase returns the patch that results from selecting phase: selecting
// the current manual phase clears it, any other manual phase replaces it.
func TogglePhase(current *Status, phase Status) (Patch, error) {
	if !phase.IsManual() {
		return Patch{}, fmt.Errorf("%w: %q is not a manual phase", ErrInvalid, phase)
	}
	if current != nil && *current == phase {
		return Patch{Status: Clear[Status]()}, nil
	}
	return Patch{Status: Set(phase)}, nil
}
