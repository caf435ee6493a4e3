// Command backend is the main entrypoint for the Reconic API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured store (Postgres with migrations, or a local SQLite file).
//   - Starts background jobs: the YouTube token refresher and the publish worker,
//     resuming uploads interrupted by a previous shutdown.
//   - Serves the REST API plus /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: pending autosaves are flushed and
// in-flight uploads are left resumable.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reconic/backend/ai"
	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/autosave"
	"github.com/reconic/backend/config"
	"github.com/reconic/backend/crypto"
	"github.com/reconic/backend/db"
	"github.com/reconic/backend/oauth"
	"github.com/reconic/backend/publish"
	"github.com/reconic/backend/searchcache"
	"github.com/reconic/backend/server"
	"github.com/reconic/backend/store"
	"github.com/reconic/backend/telemetry"
	"github.com/reconic/backend/thumbnails"
	"github.com/reconic/backend/youtubeapi"
)

const searchCacheEntries = 1000

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdownTracing, err := telemetry.InitTracing("reconic", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	if err := cfg.ValidateSessionReady(); err != nil {
		slog.Error("session configuration invalid", slog.Any("err", err))
		os.Exit(1)
	}
	signer, err := auth.NewSigner(cfg.SessionSecret)
	if err != nil {
		slog.Error("session signer init failed", slog.Any("err", err))
		os.Exit(1)
	}

	cipher, err := crypto.NewTokenCipher(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
		os.Exit(1)
	}
	if !cipher.Enabled() {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, cipher)
	if err != nil {
		slog.Error("failed to open store", slog.String("backend", cfg.StoreBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	var blobs thumbnails.Blobs
	if cfg.ThumbnailBucket != "" {
		s3b, err := thumbnails.NewS3Blobs(ctx, thumbnails.S3Config{
			Bucket:       cfg.ThumbnailBucket,
			Region:       cfg.AWSRegion,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			slog.Error("thumbnail bucket init failed", slog.Any("err", err))
			os.Exit(1)
		}
		blobs = s3b
		slog.Info("thumbnails stored in s3", slog.String("bucket", cfg.ThumbnailBucket))
	}
	thumbs := thumbnails.NewService(st, blobs)

	cache := searchcache.New(ctx, cfg.RedisURL, cfg.SearchCacheTTL, searchCacheEntries)
	defer func() { _ = cache.Close() }()

	var gen ai.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.AIModel, ai.GeminiOptions{})
		if err != nil {
			slog.Error("gemini client init failed", slog.Any("err", err))
			os.Exit(1)
		}
		gen = g
	} else {
		slog.Info("ai disabled (GEMINI_API_KEY not set)")
	}
	aiSvc := ai.NewService(gen)

	yt := youtubeapi.New(cfg, st)
	if cfg.YTClientID != "" && cfg.YTClientSecret != "" {
		oauth.StartRefresher(ctx, st, 10*time.Minute, 20*time.Minute, yt.Refresh)
	} else {
		slog.Info("youtube oauth disabled (YT_CLIENT_ID/YT_CLIENT_SECRET not set)")
	}

	worker := publish.NewWorker(st, st, thumbs, yt, publish.Options{
		Dir:           cfg.UploadDir,
		MaxConcurrent: cfg.MaxConcurrentUploads,
	})
	if n, err := worker.Resume(ctx); err != nil {
		slog.Warn("resume uploads failed", slog.Any("err", err))
	} else if n > 0 {
		slog.Info("resumed interrupted uploads", slog.Int("count", n))
	}

	saves := autosave.NewDebouncer()

	startPprof()

	handler := server.NewMux(ctx, server.Deps{
		Config:     cfg,
		Store:      st,
		YouTube:    yt,
		AI:         aiSvc,
		Cache:      cache,
		Thumbnails: thumbs,
		Publisher:  worker,
		Autosave:   saves,
		Signer:     signer,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, handler, cfg.HTTPAddr) }()
	slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
		stop()
	}
	slog.Info("shutting down")

	// The root context is already cancelled; give cleanup its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := saves.Flush(shutdownCtx); err != nil {
		slog.Error("flush pending autosaves failed", slog.Any("err", err))
	}
	if err := worker.Shutdown(shutdownCtx); err != nil {
		slog.Warn("publish worker did not stop cleanly", slog.Any("err", err))
	}
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config, cipher *crypto.TokenCipher) (store.Store, error) {
	if cfg.StoreBackend == config.StoreLocal {
		slog.Info("using local sqlite store", slog.String("path", cfg.LocalStorePath))
		return store.OpenLocal(ctx, cfg.LocalStorePath, cipher)
	}

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	// Versioned migrations first; the embedded idempotent SQL covers databases
	// created before schema_migrations existed.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}
	return store.NewPostgres(database, cipher), nil
}

// startPprof exposes /debug/pprof on PPROF_ADDR when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
