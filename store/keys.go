package store

import "strings"

const keyPrefix = "reconic"

// Keys builds the namespaced storage keys for one user. An empty user yields
// the shared, un-namespaced keys.
type Keys struct {
	User string
}

func (k Keys) key(suffix string) string {
	if k.User == "" {
		return keyPrefix + ":" + suffix
	}
	return keyPrefix + ":" + k.User + ":" + suffix
}

func (k Keys) Projects() string              { return k.key("projects") }
func (k Keys) FavoritedChannels() string     { return k.key("favorited-channels") }
func (k Keys) Account() string               { return k.key("youtube-account") }
func (k Keys) Script(id string) string       { return k.key("script:" + id) }
func (k Keys) Thumbnail(id string) string    { return k.key("thumbnail:" + id) }
func (k Keys) Inspirations(id string) string { return k.key("inspirations:" + id) }
func (k Keys) UploadJob(id string) string    { return k.key("upload-job:" + id) }

// Suggestions is derived from the script key so both live side by side.
func (k Keys) Suggestions(id string) string {
	return strings.Replace(k.Script(id), ":script:", ":suggestions:", 1)
}

// Draft returns the key for a draft field of a project.
func (k Keys) Draft(field, id string) string {
	switch field {
	case DraftScript:
		return k.Script(id)
	case DraftSuggestions:
		return k.Suggestions(id)
	case DraftNotes:
		return k.key("notes:" + id)
	case DraftEditorNotes:
		return k.key("editor-notes:" + id)
	case DraftBrollChecks:
		return k.key("broll-checks:" + id)
	}
	return k.key("draft:" + field + ":" + id)
}

// projectScoped lists every per-project key removed with the project.
func (k Keys) projectScoped(id string) []string {
	return []string{
		k.Thumbnail(id),
		k.Inspirations(id),
		k.Script(id),
		k.Suggestions(id),
		k.Draft(DraftNotes, id),
		k.Draft(DraftEditorNotes, id),
		k.Draft(DraftBrollChecks, id),
	}
}
