package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/discovery"
	"github.com/marcopiovanello/stein-dl/internal/metadata"
	"github.com/marcopiovanello/stein-dl/server"
	"github.com/marcopiovanello/stein-dl/server/config"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		configFile string
		discover   string
	)
	flag.StringVar(&configFile, "conf", "./config.yml", "Config file path")
	flag.StringVar(&discover, "discover", "", "Print the branches of a video as YAML and exit")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.max_concurrent_downloads", 0)
	v.SetDefault("paths.download_path", "./downloads")
	v.SetDefault("paths.temp_path", "./temp")
	v.SetDefault("paths.ffmpeg_path", "ffmpeg")
	v.SetDefault("paths.local_database_path", ".")
	v.SetDefault("logging.log_path", "stein-dl.log")
	v.SetDefault("logging.enable_file_logging", false)
	v.SetDefault("upstream.api_base", bilibili.DefaultAPIBase)
	v.SetDefault("upstream.user_agent", bilibili.DefaultUserAgent)
	v.SetDefault("upstream.referer", bilibili.DefaultReferer)
	v.SetDefault("discovery.max_depth", discovery.DefaultMaxDepth)
	v.SetDefault("discovery.max_visited", discovery.DefaultMaxVisited)
	v.SetDefault("discovery.step_delay", discovery.DefaultStepDelay)
	v.SetDefault("authentication.require_auth", false)
	v.SetDefault("auto_archive", true)

	// Env binding
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	// Load YAML file if exists
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("using defaults")
	}

	cfg := config.Instance()
	if err := v.Unmarshal(cfg); err != nil {
		slog.Error("failed to load config", "error", err)
	}
	cfg.SetPath(configFile)

	if cfg.Authentication.RequireAuth && cfg.Authentication.JWTSecret == "" {
		slog.Error("authentication requires authentication.jwt_secret")
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if discover != "" {
		if err := printBranches(ctx, discover); err != nil {
			slog.Error("discovery failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"max_concurrent_downloads", cfg.Server.MaxConcurrentDownloads,
	)

	if err := server.Run(ctx); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited cleanly")
}

type discoverOutput struct {
	Video     *metadata.VideoInfo `yaml:"video"`
	Summary   discovery.Summary   `yaml:"summary"`
	Branches  []internal.Branch   `yaml:"branches"`
	Generated time.Time           `yaml:"generated"`
}

// printBranches runs one discovery session and writes the result to stdout.
func printBranches(ctx context.Context, input string) error {
	ref, err := bilibili.Identify(input)
	if err != nil {
		return err
	}

	client := server.NewClient()

	info, err := metadata.NewFetcher(client).Fetch(ctx, ref)
	if err != nil {
		return err
	}

	branches := server.NewEngine(client).Discover(ctx, info.Ref, info.CID)

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(discoverOutput{
		Video:     info,
		Summary:   discovery.Summarize(branches),
		Branches:  branches,
		Generated: time.Now(),
	})
}
