package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ewmsearch/internal/config"
	"ewmsearch/internal/db"
	"ewmsearch/internal/handler"
	"ewmsearch/internal/logging"
	"ewmsearch/internal/middleware"
	"ewmsearch/internal/offline"
	"ewmsearch/internal/preload"
	"ewmsearch/internal/requisition"
	"ewmsearch/internal/search"
	"ewmsearch/internal/shell"
	"ewmsearch/internal/table"
)

// embeddedHost names the in-process origin of the page shell when no
// external origin is configured.
const embeddedHost = "ewmsearch.local"

const shutdownTimeout = 5 * time.Second

func serveCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := load()
			if err != nil {
				return err
			}
			cfg := cm.Get()
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			srv, err := NewServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.ListenAndServe(cmd.Context())
		},
	}
}

// Server is the assembled web application.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	kv      *db.KV
	limiter *middleware.RateLimiter
	watcher *preload.Watcher
	worker  *offline.Worker
	handler http.Handler
}

// NewServer opens storage, picks the startup dataset and builds the HTTP
// handler. The offline cache installs in the background; when the preload
// file is watched, the watcher runs until ctx is done.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	database, err := db.InitDB(cfg.Data.DBPath)
	if err != nil {
		return nil, err
	}
	kv, err := db.NewKV(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	s := &Server{cfg: cfg, logger: logger, db: database, kv: kv}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := table.NewStore(db.NewSnapshotStore(kv, cfg.Data.StorageKey), logger.Named("store"))
	engine := search.NewEngine(store, cfg.Search.MaxRows, reg)
	filler := requisition.NewFiller(store, requisition.Options{
		Lines:             cfg.Requisition.Lines,
		LookupColumn:      cfg.Requisition.LookupColumn,
		DescriptionColumn: cfg.Requisition.DescriptionColumn,
		IDMaxLength:       cfg.Requisition.IDMaxLength,
	})
	app := handler.NewApp(store, engine, filler, handler.Options{
		MaxUploadMB:    cfg.Upload.MaxSizeMB,
		Debounce:       cfg.Search.Debounce,
		LookupDebounce: cfg.Search.LookupDebounce,
	}, logger.Named("http"))

	loader := preload.NewLoader(cfg.Data.PreloadPath, cfg.Data.PreloadLabel, store, logger.Named("preload"))
	app.SetNotice(handler.Toast(preload.Bootstrap(ctx, store, loader, logger)))
	if cfg.Data.PreloadPath != "" && cfg.Data.WatchPreload {
		s.watcher, err = preload.NewWatcher(loader, cfg.Search.LookupDebounce, logger.Named("preload"), func(n int, err error) {
			if err == nil {
				app.SetNotice(handler.Toast{Message: fmt.Sprintf("Dados carregados: %d itens", n), Kind: handler.KindSuccess})
			}
		})
		if err != nil {
			logger.Warn("preload file will not be watched", zap.Error(err))
		} else {
			go s.watcher.Run(ctx)
		}
	}

	s.worker, err = NewWorker(cfg.Offline, db.NewCacheStorage(database), logger.Named("offline"))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.worker.WithMetrics(offline.NewMetrics(reg))
	go func() {
		if err := s.worker.Register(ctx); err != nil {
			logger.Warn("offline cache not updated", zap.Error(err))
		}
	}()

	s.limiter = middleware.NewRateLimiter(cfg.Upload.RateLimit, cfg.Upload.RateWindow, logger.Named("ratelimit"))
	mux := http.NewServeMux()
	handler.Routes(mux, app, s.limiter.Limit())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", s.worker.Handler())

	chain := middleware.Chain(
		middleware.RequestID(),
		middleware.AccessLog(logger.Named("access")),
		middleware.SecurityHeaders(),
		middleware.CORS(),
	)
	s.handler = chain(mux.ServeHTTP)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Worker returns the offline cache worker.
func (s *Server) Worker() *offline.Worker { return s.worker }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ewmsearch listening", zap.String("addr", "http://"+srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Close releases the watcher, rate limiter and database.
func (s *Server) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.kv.Close()
	return s.db.Close()
}

// NewWorker builds the offline worker for cfg on storage. An empty origin
// serves the embedded page shell in-process.
func NewWorker(cfg config.OfflineConfig, storage offline.CacheStorage, logger *zap.Logger) (*offline.Worker, error) {
	origin := cfg.Origin
	var transport http.RoundTripper = http.DefaultTransport
	if origin == "" {
		origin = "http://" + embeddedHost + "/"
		transport = &offline.LocalTransport{Host: embeddedHost, Handler: shell.Handler(), Next: http.DefaultTransport}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid offline origin %q: %w", origin, err)
	}
	return offline.NewWorker(offline.Config{
		Version:      cfg.CacheVersion,
		Origin:       u,
		Manifest:     cfg.Manifest,
		SkipWaiting:  cfg.SkipWaiting,
		Concurrency:  cfg.InstallConcurrency,
		FetchTimeout: cfg.FetchTimeout,
	}, storage, transport, logger)
}
