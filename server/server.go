// a stupid package name...
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/discovery"
	"github.com/marcopiovanello/stein-dl/internal/downloaders"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"github.com/marcopiovanello/stein-dl/internal/metadata"
	"github.com/marcopiovanello/stein-dl/internal/pipes"
	"github.com/marcopiovanello/stein-dl/internal/queue"
	"github.com/marcopiovanello/stein-dl/internal/resolver"
	"github.com/marcopiovanello/stein-dl/server/archiver"
	"github.com/marcopiovanello/stein-dl/server/config"
	middlewares "github.com/marcopiovanello/stein-dl/server/middleware"
	"github.com/marcopiovanello/stein-dl/server/rest"
	steinRPC "github.com/marcopiovanello/stein-dl/server/rpc"
	"github.com/marcopiovanello/stein-dl/server/status"
)

type serverConfig struct {
	registry *kv.Registry
	client   *bilibili.Client
	engine   *discovery.Engine
	pipeline *downloaders.Pipeline
	archiver *archiver.Archiver
	db       *sql.DB
}

// NewClient builds the upstream client from the config instance.
func NewClient() *bilibili.Client {
	up := config.Instance().Upstream

	opts := []bilibili.Option{}
	if up.APIBase != "" {
		opts = append(opts, bilibili.WithAPIBase(up.APIBase))
	}
	if up.UserAgent != "" {
		opts = append(opts, bilibili.WithUserAgent(up.UserAgent))
	}
	if up.Referer != "" {
		opts = append(opts, bilibili.WithReferer(up.Referer))
	}

	return bilibili.NewClient(opts...)
}

// NewEngine builds the discovery engine from the config instance.
func NewEngine(client *bilibili.Client) *discovery.Engine {
	d := config.Instance().Discovery

	return discovery.NewEngine(client, discovery.Config{
		MaxDepth:   d.MaxDepth,
		MaxVisited: d.MaxVisited,
		StepDelay:  d.StepDelay,
	})
}

func Run(ctx context.Context) error {
	conf := config.Instance()

	// ---- LOGGING ---------------------------------------------------
	logWriters := []io.Writer{os.Stdout}

	if conf.Logging.EnableFileLogging {
		logFile, err := os.OpenFile(conf.Logging.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer logFile.Close()

		logWriters = append(logWriters, logFile)
	}

	level := slog.LevelInfo
	if conf.Logging.Debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(logWriters...), &slog.HandlerOptions{
		Level: level,
	}))

	// make the new logger the default one with all the new writers
	slog.SetDefault(logger)
	// ----------------------------------------------------------------

	registry := kv.NewRegistry()
	client := NewClient()

	dispatcher := queue.NewDispatcher(ctx, conf.Server.MaxConcurrentDownloads)

	pipeline := downloaders.NewPipeline(
		registry,
		resolver.New(client),
		client,
		&pipes.FFmpegMuxer{Path: conf.Paths.FFmpegPath},
		dispatcher,
		downloaders.PipelineConfig{
			DownloadDir: conf.Paths.DownloadPath,
			TempDir:     conf.Paths.TempPath,
		},
	)

	scfg := serverConfig{
		registry: registry,
		client:   client,
		engine:   NewEngine(client),
		pipeline: pipeline,
	}

	db, err := archiver.Open(conf.Paths.LocalDatabasePath)
	if err != nil {
		return err
	}
	scfg.db = db

	if conf.AutoArchive {
		a, err := archiver.New(ctx, db)
		if err != nil {
			return err
		}
		if err := a.Register(registry.Bus()); err != nil {
			return err
		}
		scfg.archiver = a
	}

	srv, err := newServer(scfg)
	if err != nil {
		return err
	}

	go gracefulShutdown(ctx, srv, &scfg)

	var (
		network = "tcp"
		address = fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
	)

	// support unix sockets
	if strings.HasPrefix(conf.Server.Host, "/") {
		network = "unix"
		address = conf.Server.Host
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		slog.Error("failed to listen", slog.String("err", err.Error()))
		return err
	}

	slog.Info("stein-dl started", slog.String("address", address))

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		slog.Warn("http server stopped", slog.String("err", err.Error()))
	}

	return nil
}

func newServer(c serverConfig) (*http.Server, error) {
	service, err := steinRPC.Container(c.registry)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.Use(corsMiddleware.Handler)

	baseURL := config.Instance().Server.BaseURL

	r.Route(baseURL+"/", func(r chi.Router) {
		// Authentication routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", middlewares.Login)
			r.Get("/logout", middlewares.Logout)
		})

		// RPC handlers, the websocket is also exposed at /ws
		r.Route("/rpc", service.ApplyRouter())
		r.With(middlewares.ApplyAuthenticationByConfig).Get("/ws", service.WebSocket)

		// REST API handlers
		r.Route("/api", rest.ApplyRouter(&rest.ContainerArgs{
			Fetcher:  metadata.NewFetcher(c.client),
			Engine:   c.engine,
			Pipeline: c.pipeline,
			Registry: c.registry,
			Archiver: c.archiver,
			Status:   status.New(c.registry, config.Instance().Paths.DownloadPath),
		}))
	})

	return &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func gracefulShutdown(ctx context.Context, srv *http.Server, cfg *serverConfig) {
	<-ctx.Done()
	slog.Info("shutdown signal received")

	defer func() {
		srv.Shutdown(context.Background())
		cfg.db.Close()
	}()
}
