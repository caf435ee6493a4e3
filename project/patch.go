package project

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Field is an optional patch value. Set records that the key was present in
// the request; a present key with a nil Value clears the stored value.
type Field[T any] struct {
	Set   bool
	Value *T
}

// Set returns a present Field holding v.
func Set[T any](v T) Field[T] { return Field[T]{Set: true, Value: &v} }

// Clear returns a present Field with no value.
func Clear[T any]() Field[T] { return Field[T]{Set: true} }

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if string(b) == "null" {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// Patch is a partial update. Only present keys are applied.
type Patch struct {
	Title          Field[string]          `json:"title"`
	Topic          Field[string]          `json:"topic"`
	Description    Field[string]          `json:"description"`
	ChosenTitle    Field[string]          `json:"chosenTitle"`
	Status         Field[Status]          `json:"status"`
	Notes          Field[string]          `json:"notes"`
	TargetDuration Field[int]             `json:"targetDuration"`
	Script         Field[string]          `json:"script"`
	AISuggestions  Field[Suggestions]     `json:"aiSuggestions"`
	BrollChecks    Field[map[string]bool] `json:"brollChecks"`
	EditorNotes    Field[string]          `json:"editorNotes"`
	YouTubeVideoID Field[string]          `json:"youtubeVideoId"`
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return !(p.Title.Set || p.Topic.Set || p.Description.Set || p.ChosenTitle.Set ||
		p.Status.Set || p.Notes.Set || p.TargetDuration.Set || p.Script.Set ||
		p.AISuggestions.Set || p.BrollChecks.Set || p.EditorNotes.Set || p.YouTubeVideoID.Set)
}

// Validate checks the present fields.
func (p *Patch) Validate() error {
	if p.Title.Set && (p.Title.Value == nil || *p.Title.Value == "") {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	}
	if p.Title.Value != nil {
		if err := checkLen("title", *p.Title.Value, MaxTitleLen); err != nil {
			return err
		}
	}
	if p.Topic.Value != nil {
		if err := checkLen("topic", *p.Topic.Value, MaxTopicLen); err != nil {
			return err
		}
	}
	if p.Description.Value != nil {
		if err := checkLen("description", *p.Description.Value, MaxDescriptionLen); err != nil {
			return err
		}
	}
	if p.Status.Value != nil && !p.Status.Value.IsManual() {
		return fmt.Errorf("%w: status must be filming, editing or published", ErrInvalid)
	}
	if p.TargetDuration.Value != nil && !ValidDuration(*p.TargetDuration.Value) {
		return fmt.Errorf("%w: targetDuration must be one of 10, 20, 30, 45", ErrInvalid)
	}
	return nil
}

// Apply mutates pr with the present fields of p.
func (p *Patch) Apply(pr *Project, now time.Time) {
	if p.Title.Set {
		pr.Title = deref(p.Title.Value)
	}
	if p.Topic.Set {
		pr.Topic = deref(p.Topic.Value)
	}
	if p.Description.Set {
		pr.Description = deref(p.Description.Value)
	}
	applyField(p.ChosenTitle, &pr.ChosenTitle)
	applyField(p.Status, &pr.Status)
	applyField(p.Notes, &pr.Notes)
	applyField(p.TargetDuration, &pr.TargetDuration)
	applyField(p.Script, &pr.Script)
	applyField(p.AISuggestions, &pr.AISuggestions)
	applyField(p.EditorNotes, &pr.EditorNotes)
	applyField(p.YouTubeVideoID, &pr.YouTubeVideoID)
	if p.BrollChecks.Set {
		if p.BrollChecks.Value == nil {
			pr.BrollChecks = nil
		} else {
			pr.BrollChecks = maps.Clone(*p.BrollChecks.Value)
		}
	}
	pr.UpdatedAt = now
}

func applyField[T any](f Field[T], dst **T) {
	if !f.Set {
		return
	}
	if f.Value == nil {
		*dst = nil
		return
	}
	v := *f.Value
	*dst = &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
