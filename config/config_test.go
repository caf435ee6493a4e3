package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SITE_URL", "")
	t.Setenv("YT_REDIRECT_URI", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("UPLOAD_CHUNK_SIZE", "")
	t.Setenv("SESSION_TTL", "")
	t.Setenv("MAX_UPLOAD_BYTES", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.SiteURL != "http://localhost:3000" {
		t.Errorf("SiteURL = %q", cfg.SiteURL)
	}
	if cfg.YTRedirectURI != "http://localhost:3000/api/youtube/callback" {
		t.Errorf("YTRedirectURI = %q", cfg.YTRedirectURI)
	}
	if cfg.StoreBackend != StorePostgres {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.AIModel != "gemini-2.5-flash" {
		t.Errorf("AIModel = %q", cfg.AIModel)
	}
	if cfg.AutosaveNotesDelay != 800*time.Millisecond || cfg.AutosaveChecksDelay != 500*time.Millisecond {
		t.Errorf("unexpected autosave delays: %v %v", cfg.AutosaveNotesDelay, cfg.AutosaveChecksDelay)
	}
	if cfg.UploadChunkSize != 8*1024*1024 {
		t.Errorf("UploadChunkSize = %d", cfg.UploadChunkSize)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.MaxUploadBytes != 16<<30 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
}

func TestLoadTrimsSiteURL(t *testing.T) {
	t.Setenv("SITE_URL", "https://reconic.app/")
	t.Setenv("YT_REDIRECT_URI", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SiteURL != "https://reconic.app" {
		t.Errorf("SiteURL = %q", cfg.SiteURL)
	}
	if cfg.YTRedirectURI != "https://reconic.app/api/youtube/callback" {
		t.Errorf("YTRedirectURI = %q", cfg.YTRedirectURI)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORE_BACKEND", "mongo"},
		{"UPLOAD_MAX_ATTEMPTS", "many"},
		{"AUTOSAVE_NOTES_DELAY", "soon"},
		{"SEARCH_CACHE_TTL", "10"},
		{"SESSION_TTL", "forever"},
		{"MAX_UPLOAD_BYTES", "-1"},
		{"MAX_UPLOAD_BYTES", "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestRoundChunkSize(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{1, 256 * 1024},
		{256 * 1024, 256 * 1024},
		{300 * 1024, 256 * 1024},
		{8 * 1024 * 1024, 8 * 1024 * 1024},
	}
	for _, tt := range tests {
		if got := roundChunkSize(tt.in); got != tt.want {
			t.Errorf("roundChunkSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFeatureReadiness(t *testing.T) {
	cfg := &Config{}
	if cfg.OAuthReady() || cfg.SearchReady() || cfg.AIReady() {
		t.Fatal("empty config should not report features ready")
	}
	cfg.YTClientID, cfg.YTClientSecret = "id", "secret"
	cfg.YTDataAPIKey = "key"
	cfg.GeminiAPIKey = "key"
	if !cfg.OAuthReady() || !cfg.SearchReady() || !cfg.AIReady() {
		t.Fatal("expected all features ready")
	}
	if err := cfg.ValidateSessionReady(); err == nil {
		t.Error("expected error for missing session secret")
	}
	cfg.SessionSecret = "0123456789abcdef"
	if err := cfg.ValidateSessionReady(); err != nil {
		t.Errorf("ValidateSessionReady() = %v", err)
	}
}
