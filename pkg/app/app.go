// Package app wires the configured stores, services and HTTP API together.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"retrocms/pkg/auth"
	"retrocms/pkg/catalog"
	"retrocms/pkg/config"
	"retrocms/pkg/handlers"
	"retrocms/pkg/metrics"
	"retrocms/pkg/models"
	"retrocms/pkg/remote"
	"retrocms/pkg/remote/memdb"
	"retrocms/pkg/remote/pgdb"
	"retrocms/pkg/services"
	"retrocms/pkg/storage"
)

// sessionSweepInterval is how often expired admin sessions are dropped
const sessionSweepInterval = 5 * time.Minute

// App holds every long-lived component of a running instance
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	recorder metrics.Recorder

	bolt     *storage.BoltBackend
	local    *storage.LocalStore
	blobs    *storage.BlobStore
	db       remote.Database
	closeDB  func()
	client   *remote.Client
	content  *services.ContentService
	sessions *auth.Manager
	auth     *services.AuthService
}

// New opens the local cache, the blob directory and the remote store
// selected by cfg, then builds the services on top of them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		closeDB:  func() {},
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.recorder = metrics.NewPrometheus(a.registry)

	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.Path), 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	backend, err := storage.OpenBolt(a.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	a.local, err = storage.NewLocalStore(backend, a.cfg.Storage.Keys, a.logger, a.recorder)
	if err != nil {
		backend.Close()
		return err
	}
	a.bolt = backend

	a.blobs, err = storage.NewBlobStore(a.cfg.Blob.Dir, a.cfg.Blob.PublicBaseURL, a.cfg.Upload.MaxFileSize)
	if err != nil {
		return err
	}

	if err := a.openRemote(ctx); err != nil {
		return err
	}
	if a.db != nil {
		a.client, err = remote.NewClient(a.db, a.blobs, a.local, a.cfg.Remote.Config, a.logger, a.recorder)
		if err != nil {
			return err
		}
	}

	var client services.RemoteClient
	if a.client != nil {
		client = a.client
	}
	a.content, err = services.NewContentService(a.local, client, catalog.Default(), a.cfg.Upload, a.logger, a.recorder)
	if err != nil {
		return err
	}

	a.sessions = auth.NewManager(a.cfg.Admin.SessionTTL, a.cfg.HTTP.SecureCookies)
	a.auth = services.NewAuthService(a.identityProvider(), a.sessions, a.local, a.cfg.Admin.Login, a.logger)
	return nil
}

func (a *App) openRemote(ctx context.Context) error {
	switch a.cfg.Remote.Driver {
	case config.DriverNone:
		a.logger.Info("remote store disabled, running on the local cache only")
		return nil
	case config.DriverMemory:
		// The tree is kept in the cache file so content survives restarts
		db, err := memdb.Open(a.bolt, a.logger)
		if err != nil {
			return err
		}
		a.db, a.closeDB = db, db.Close
		return nil
	case config.DriverPostgres:
		if err := pgdb.Migrate(ctx, a.cfg.Remote.DSN, a.logger); err != nil {
			return err
		}
		db, err := pgdb.Open(ctx, a.cfg.Remote.DSN, a.logger)
		if err != nil {
			return err
		}
		a.db, a.closeDB = db, db.Close
		return nil
	default:
		return fmt.Errorf("unknown remote driver %q", a.cfg.Remote.Driver)
	}
}

// identityProvider returns nil when no admin password is configured, which
// leaves the admin API locked.
func (a *App) identityProvider() auth.IdentityProvider {
	if a.cfg.Admin.PasswordHash == "" {
		a.logger.Warn("no admin password hash configured, admin login disabled")
		return nil
	}
	provider, err := auth.NewPasswordProvider(a.cfg.Admin.User, a.cfg.Admin.PasswordHash)
	if err != nil {
		a.logger.Error("invalid admin credentials, admin login disabled", zap.Error(err))
		return nil
	}
	return provider
}

// Content returns the content service
func (a *App) Content() *services.ContentService {
	return a.content
}

// SetUploadLimits applies new upload limits to file validation and to the
// blob store ceiling
func (a *App) SetUploadLimits(limits models.UploadLimits) {
	a.content.SetUploadLimits(limits)
	a.blobs.SetMaxSize(limits.MaxFileSize)
	a.logger.Info("upload limits updated", zap.Int64("maxFileSize", limits.MaxFileSize))
}

// Handler returns the HTTP API
func (a *App) Handler() http.Handler {
	return handlers.NewRouter(handlers.Deps{
		Content:  a.content,
		Auth:     a.auth,
		Sessions: a.sessions,
		Blobs:    a.blobs,
		Gatherer: a.registry,
		Logger:   a.logger,
	})
}

// Serve runs the HTTP API until ctx is cancelled. When loader is non-nil its
// file is watched and upload limits follow edits without a restart.
func (a *App) Serve(ctx context.Context, loader *config.Loader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.client != nil {
		if err := a.client.Start(ctx); err != nil {
			a.logger.Warn("remote store unavailable, serving cached content", zap.Error(err))
		}
	}
	if loader != nil {
		loader.Watch(ctx, a.logger, func(cfg *config.Config) {
			a.SetUploadLimits(cfg.Upload)
		})
	}

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var lifecycle conc.WaitGroup
	errs := make(chan error, 1)
	lifecycle.Go(func() {
		a.logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errs <- err
			cancel()
		}
	})
	lifecycle.Go(func() { a.sweepSessions(ctx) })

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown", zap.Error(err))
	}
	lifecycle.Wait()
	a.logger.Info("http server stopped")

	select {
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logger.Debug("admin sessions", zap.Int("live", a.sessions.Count()))
		}
	}
}

// Seed writes the default catalog to the remote store, replacing whatever
// it holds.
func (a *App) Seed(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("seed needs a remote store, driver is %q", a.cfg.Remote.Driver)
	}
	cat := catalog.Default()
	if err := a.client.ReplacePhotos(ctx, cat.Photos()); err != nil {
		return err
	}
	if err := a.client.UpdateHeaderImages(ctx, cat.HeaderImages()); err != nil {
		return err
	}
	a.recorder.ObserveSeed(string(services.KindPhotos))
	a.recorder.ObserveSeed(string(services.KindHeaderImages))
	a.logger.Info("default catalog written to the remote store",
		zap.Int("photos", len(cat.Photos())),
		zap.Int("headerImages", len(cat.HeaderImages())),
		zap.Int("version", cat.Version()))
	return nil
}

// Backup zips the cached collections and uploaded files into outDir
func (a *App) Backup(outDir string) (string, error) {
	return storage.Backup(outDir, a.blobs, a.local)
}

// Close releases every component in reverse opening order
func (a *App) Close() {
	if a.content != nil {
		a.content.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	a.closeDB()
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logger.Warn("close local cache", zap.Error(err))
		}
	}
}
