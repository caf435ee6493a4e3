package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/reconic/backend/crypto"
	"github.com/reconic/backend/project"
)

// Local implements Store on a single SQLite key/value table. Each record set
// lives under a namespaced key (see Keys) as a JSON document, newest first.
type Local struct {
	db     *sql.DB
	cipher *crypto.TokenCipher
	mu     sync.Mutex
	now    func() time.Time
}

// OpenLocal opens (creating if needed) the SQLite file at path.
func OpenLocal(ctx context.Context, path string, cipher *crypto.TokenCipher) (*Local, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize local store: %w", err)
		}
	}
	return &Local{db: db, cipher: cipher, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Local) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Local) Close() error                   { return s.db.Close() }

func (s *Local) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Local) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Local) del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

// loadJSON decodes the value at key into T. A missing or corrupt value yields
// the zero T, matching how the web client treats unreadable local storage.
func loadJSON[T any](ctx context.Context, s *Local, key string) (T, error) {
	var out T
	raw, ok, err := s.get(ctx, key)
	if err != nil || !ok {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("discarding corrupt local record", slog.String("key", key), slog.Any("err", err), slog.String("component", "store_local"))
		var zero T
		return zero, nil
	}
	return out, nil
}

func (s *Local) saveJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.put(ctx, key, string(b))
}

func (s *Local) ListProjects(ctx context.Context, userID string) ([]project.Project, error) {
	list, err := loadJSON[[]project.Project](ctx, s, Keys{User: userID}.Projects())
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []project.Project{}
	}
	for i := range list {
		list[i].UserID = userID
	}
	return list, nil
}

func findProject(list []project.Project, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Local) GetProject(ctx context.Context, userID, id string) (*project.Project, error) {
	list, err := s.ListProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := findProject(list, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &list[i], nil
}

func (s *Local) CreateProject(ctx context.Context, userID string, in project.NewProject) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ListProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	p := project.Project{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          in.Title,
		Topic:          in.Topic,
		Description:    in.Description,
		TargetDuration: in.TargetDuration,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	list = append([]project.Project{p}, list...)
	if err := s.saveJSON(ctx, Keys{User: userID}.Projects(), list); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Local) PatchProject(ctx context.Context, userID, id string, p project.Patch) (*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ListProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := findProject(list, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	p.Apply(&list[i], s.now())
	if err := s.saveJSON(ctx, Keys{User: userID}.Projects(), list); err != nil {
		return nil, err
	}
	out := list[i]
	return &out, nil
}

func (s *Local) DeleteProject(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ListProjects(ctx, userID)
	if err != nil {
		return err
	}
	i := findProject(list, id)
	if i < 0 {
		return ErrNotFound
	}
	list = append(list[:i], list[i+1:]...)
	k := Keys{User: userID}
	if err := s.saveJSON(ctx, k.Projects(), list); err != nil {
		return err
	}
	return s.del(ctx, k.projectScoped(id)...)
}

func (s *Local) requireProject(ctx context.Context, userID, id string) error {
	_, err := s.GetProject(ctx, userID, id)
	return err
}

func (s *Local) ListInspirations(ctx context.Context, userID, projectID string) ([]Inspiration, error) {
	list, err := loadJSON[[]Inspiration](ctx, s, Keys{User: userID}.Inspirations(projectID))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Inspiration{}
	}
	return list, nil
}

func (s *Local) SaveInspiration(ctx context.Context, userID, projectID string, in Inspiration) (*Inspiration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	list, err := s.ListInspirations(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	in.SavedAt = s.now()
	kept := []Inspiration{in}
	for _, x := range list {
		if x.VideoID != in.VideoID {
			kept = append(kept, x)
		}
	}
	if err := s.saveJSON(ctx, Keys{User: userID}.Inspirations(projectID), kept); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *Local) RemoveInspiration(ctx context.Context, userID, projectID, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ListInspirations(ctx, userID, projectID)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, x := range list {
		if x.VideoID != videoID {
			kept = append(kept, x)
		}
	}
	if len(kept) == len(list) {
		return ErrNotFound
	}
	return s.saveJSON(ctx, Keys{User: userID}.Inspirations(projectID), kept)
}

// objectPrefix marks a thumbnail stored out of line.
const objectPrefix = "object:"

func (s *Local) GetThumbnail(ctx context.Context, userID, projectID string) (*Thumbnail, error) {
	v, ok, err := s.get(ctx, Keys{User: userID}.Thumbnail(projectID))
	if err != nil {
		return nil, err
	}
	if !ok || v == "" {
		return nil, ErrNotFound
	}
	if strings.HasPrefix(v, objectPrefix) {
		return &Thumbnail{ObjectKey: strings.TrimPrefix(v, objectPrefix)}, nil
	}
	return &Thumbnail{DataURL: v}, nil
}

func (s *Local) SetThumbnail(ctx context.Context, userID, projectID string, t Thumbnail) error {
	if err := s.requireProject(ctx, userID, projectID); err != nil {
		return err
	}
	v := t.DataURL
	if t.ObjectKey != "" {
		v = objectPrefix + t.ObjectKey
	}
	return s.put(ctx, Keys{User: userID}.Thumbnail(projectID), v)
}

func (s *Local) DeleteThumbnail(ctx context.Context, userID, projectID string) error {
	return s.del(ctx, Keys{User: userID}.Thumbnail(projectID))
}

func (s *Local) GetDraft(ctx context.Context, userID, projectID, field string) (string, error) {
	v, _, err := s.get(ctx, Keys{User: userID}.Draft(field, projectID))
	return v, err
}

func (s *Local) PutDraft(ctx context.Context, userID, projectID, field, value string) error {
	if err := s.requireProject(ctx, userID, projectID); err != nil {
		return err
	}
	return s.put(ctx, Keys{User: userID}.Draft(field, projectID), value)
}

func (s *Local) ListFavorites(ctx context.Context, userID string) ([]FavoriteChannel, error) {
	list, err := loadJSON[[]FavoriteChannel](ctx, s, Keys{User: userID}.FavoritedChannels())
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []FavoriteChannel{}
	}
	return list, nil
}

func (s *Local) SaveFavorite(ctx context.Context, userID string, ch FavoriteChannel) (*FavoriteChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ChannelID == ch.ChannelID {
			return &list[i], nil
		}
	}
	ch.SavedAt = s.now()
	list = append([]FavoriteChannel{ch}, list...)
	if err := s.saveJSON(ctx, Keys{User: userID}.FavoritedChannels(), list); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Local) RemoveFavorite(ctx context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.ListFavorites(ctx, userID)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, c := range list {
		if c.ChannelID != channelID {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	return s.saveJSON(ctx, Keys{User: userID}.FavoritedChannels(), kept)
}

func (s *Local) IsFavorite(ctx context.Context, userID, channelID string) (bool, error) {
	list, err := s.ListFavorites(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range list {
		if c.ChannelID == channelID {
			return true, nil
		}
	}
	return false, nil
}

// keysLike returns every key matching a SQL LIKE pattern.
func (s *Local) keysLike(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE key LIKE ? ORDER BY key`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func sortJobs(jobs []UploadJob) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
}
