package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reconic/backend/crypto"
	"github.com/reconic/backend/project"
)

// Postgres implements Store on the hosted relational schema in db/migrations.
type Postgres struct {
	db     *sql.DB
	cipher *crypto.TokenCipher
	now    func() time.Time
}

// NewPostgres wraps an open pool. cipher may be nil to store tokens in plaintext.
func NewPostgres(db *sql.DB, cipher *crypto.TokenCipher) *Postgres {
	return &Postgres{db: db, cipher: cipher, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the pool for readiness checks and admin tooling.
func (s *Postgres) DB() *sql.DB { return s.db }

func (s *Postgres) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Postgres) Close() error                   { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id, user_id, title, topic, description, chosen_title, status, notes,
	target_duration, script, ai_suggestions, broll_checks, editor_notes, youtube_video_id,
	created_at, updated_at`

func scanProject(r rowScanner) (*project.Project, error) {
	var p project.Project
	var chosen, status, notes, script, editor, videoID sql.NullString
	var duration sql.NullInt64
	var sugg, checks []byte
	if err := r.Scan(&p.ID, &p.UserID, &p.Title, &p.Topic, &p.Description, &chosen, &status, &notes,
		&duration, &script, &sugg, &checks, &editor, &videoID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ChosenTitle = nullString(chosen)
	p.Notes = nullString(notes)
	p.Script = nullString(script)
	p.EditorNotes = nullString(editor)
	p.YouTubeVideoID = nullString(videoID)
	if status.Valid {
		st := project.Status(status.String)
		p.Status = &st
	}
	if duration.Valid {
		d := int(duration.Int64)
		p.TargetDuration = &d
	}
	if len(sugg) > 0 {
		var sg project.Suggestions
		if err := json.Unmarshal(sugg, &sg); err != nil {
			return nil, fmt.Errorf("decode ai_suggestions: %w", err)
		}
		p.AISuggestions = &sg
	}
	if len(checks) > 0 {
		if err := json.Unmarshal(checks, &p.BrollChecks); err != nil {
			return nil, fmt.Errorf("decode broll_checks: %w", err)
		}
	}
	return &p, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// fieldArg converts a patch field to a query argument; absent values become NULL.
func fieldArg[T any](f project.Field[T], conv func(T) (any, error)) (any, error) {
	if f.Value == nil {
		return nil, nil
	}
	return conv(*f.Value)
}

func asIs[T any](v T) (any, error) { return v, nil }

func asJSON[T any](v T) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Postgres) ListProjects(ctx context.Context, userID string) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	out := []project.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Postgres) GetProject(ctx context.Context, userID, id string) (*project.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Postgres) CreateProject(ctx context.Context, userID string, in project.NewProject) (*project.Project, error) {
	now := s.now()
	var duration any
	if in.TargetDuration != nil {
		duration = *in.TargetDuration
	}
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`INSERT INTO projects (id, user_id, title, topic, description, target_duration, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING `+projectColumns,
		uuid.NewString(), userID, in.Title, in.Topic, in.Description, duration, now))
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *Postgres) PatchProject(ctx context.Context, userID, id string, p project.Patch) (*project.Project, error) {
	var (
		sets []string
		args []any
		err  error
	)
	add := func(col string) func(any, error) {
		return func(v any, e error) {
			if e != nil && err == nil {
				err = fmt.Errorf("encode %s: %w", col, e)
			}
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	if p.Title.Set {
		add("title")(deref(p.Title.Value), nil)
	}
	if p.Topic.Set {
		add("topic")(deref(p.Topic.Value), nil)
	}
	if p.Description.Set {
		add("description")(deref(p.Description.Value), nil)
	}
	if p.ChosenTitle.Set {
		add("chosen_title")(fieldArg(p.ChosenTitle, asIs[string]))
	}
	if p.Status.Set {
		add("status")(fieldArg(p.Status, func(v project.Status) (any, error) { return string(v), nil }))
	}
	if p.Notes.Set {
		add("notes")(fieldArg(p.Notes, asIs[string]))
	}
	if p.TargetDuration.Set {
		add("target_duration")(fieldArg(p.TargetDuration, asIs[int]))
	}
	if p.Script.Set {
		add("script")(fieldArg(p.Script, asIs[string]))
	}
	if p.AISuggestions.Set {
		add("ai_suggestions")(fieldArg(p.AISuggestions, asJSON[project.Suggestions]))
	}
	if p.BrollChecks.Set {
		add("broll_checks")(fieldArg(p.BrollChecks, asJSON[map[string]bool]))
	}
	if p.EditorNotes.Set {
		add("editor_notes")(fieldArg(p.EditorNotes, asIs[string]))
	}
	if p.YouTubeVideoID.Set {
		add("youtube_video_id")(fieldArg(p.YouTubeVideoID, asIs[string]))
	}
	if err != nil {
		return nil, err
	}
	add("updated_at")(s.now(), nil)
	args = append(args, id, userID)
	q := fmt.Sprintf(`UPDATE projects SET %s WHERE id = $%d AND user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), projectColumns)

	out, err := scanProject(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patch project: %w", err)
	}
	return out, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *Postgres) DeleteProject(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return affectedOrNotFound(res)
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListInspirations(ctx context.Context, userID, projectID string) ([]Inspiration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, title, thumbnail_url, saved_at FROM project_inspirations
		 WHERE project_id = $1 AND user_id = $2 ORDER BY saved_at DESC`, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("list inspirations: %w", err)
	}
	defer rows.Close()
	out := []Inspiration{}
	for rows.Next() {
		var in Inspiration
		if err := rows.Scan(&in.VideoID, &in.Title, &in.ThumbnailURL, &in.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveInspiration(ctx context.Context, userID, projectID string, in Inspiration) (*Inspiration, error) {
	out := Inspiration{}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO project_inspirations (project_id, user_id, video_id, title, thumbnail_url, saved_at)
		 SELECT id, user_id, $3, $4, $5, $6 FROM projects WHERE id = $1 AND user_id = $2
		 ON CONFLICT (project_id, video_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   thumbnail_url = EXCLUDED.thumbnail_url,
		   saved_at = EXCLUDED.saved_at
		 RETURNING video_id, title, thumbnail_url, saved_at`,
		projectID, userID, in.VideoID, in.Title, in.ThumbnailURL, s.now(),
	).Scan(&out.VideoID, &out.Title, &out.ThumbnailURL, &out.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("save inspiration: %w", err)
	}
	return &out, nil
}

func (s *Postgres) RemoveInspiration(ctx context.Context, userID, projectID, videoID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM project_inspirations WHERE project_id = $1 AND user_id = $2 AND video_id = $3`,
		projectID, userID, videoID)
	if err != nil {
		return fmt.Errorf("remove inspiration: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Postgres) GetThumbnail(ctx context.Context, userID, projectID string) (*Thumbnail, error) {
	var dataURL, key sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT data_url, object_key FROM project_thumbnails WHERE project_id = $1 AND user_id = $2`,
		projectID, userID).Scan(&dataURL, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thumbnail: %w", err)
	}
	return &Thumbnail{DataURL: dataURL.String, ObjectKey: key.String}, nil
}

func (s *Postgres) SetThumbnail(ctx context.Context, userID, projectID string, t Thumbnail) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO project_thumbnails (project_id, user_id, data_url, object_key, updated_at)
		 SELECT id, user_id, NULLIF($3, ''), NULLIF($4, ''), $5 FROM projects WHERE id = $1 AND user_id = $2
		 ON CONFLICT (project_id) DO UPDATE SET
		   data_url = EXCLUDED.data_url,
		   object_key = EXCLUDED.object_key,
		   updated_at = EXCLUDED.updated_at`,
		projectID, userID, t.DataURL, t.ObjectKey, s.now())
	if err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Postgres) DeleteThumbnail(ctx context.Context, userID, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_thumbnails WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete thumbnail: %w", err)
	}
	return nil
}

func (s *Postgres) GetDraft(ctx context.Context, userID, projectID, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM project_drafts WHERE project_id = $1 AND user_id = $2 AND field = $3`,
		projectID, userID, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get draft: %w", err)
	}
	return v, nil
}

func (s *Postgres) PutDraft(ctx context.Context, userID, projectID, field, value string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO project_drafts (project_id, user_id, field, value, updated_at)
		 SELECT id, user_id, $3, $4, $5 FROM projects WHERE id = $1 AND user_id = $2
		 ON CONFLICT (project_id, field) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		projectID, userID, field, value, s.now())
	if err != nil {
		return fmt.Errorf("put draft: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Postgres) ListFavorites(ctx context.Context, userID string) ([]FavoriteChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, title, thumbnail, subscriber_count, saved_at FROM favorited_channels
		 WHERE user_id = $1 ORDER BY saved_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()
	out := []FavoriteChannel{}
	for rows.Next() {
		var c FavoriteChannel
		if err := rows.Scan(&c.ChannelID, &c.Title, &c.Thumbnail, &c.SubscriberCount, &c.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveFavorite(ctx context.Context, userID string, ch FavoriteChannel) (*FavoriteChannel, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO favorited_channels (user_id, channel_id, title, thumbnail, subscriber_count, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, channel_id) DO NOTHING`,
		userID, ch.ChannelID, ch.Title, ch.Thumbnail, ch.SubscriberCount, s.now()); err != nil {
		return nil, fmt.Errorf("save favorite: %w", err)
	}
	var out FavoriteChannel
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, title, thumbnail, subscriber_count, saved_at FROM favorited_channels
		 WHERE user_id = $1 AND channel_id = $2`, userID, ch.ChannelID,
	).Scan(&out.ChannelID, &out.Title, &out.Thumbnail, &out.SubscriberCount, &out.SavedAt)
	if err != nil {
		return nil, fmt.Errorf("read favorite: %w", err)
	}
	return &out, nil
}

func (s *Postgres) RemoveFavorite(ctx context.Context, userID, channelID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM favorited_channels WHERE user_id = $1 AND channel_id = $2`, userID, channelID); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *Postgres) IsFavorite(ctx context.Context, userID, channelID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM favorited_channels WHERE user_id = $1 AND channel_id = $2)`,
		userID, channelID).Scan(&ok)
	return ok, err
}
