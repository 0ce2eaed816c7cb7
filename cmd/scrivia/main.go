// Command scrivia runs the meeting minutes service: it watches a Discord
// channel (and optionally a cloud folder) for finished multi-track voice
// recordings and turns them into posted meeting minutes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/craig"
	"github.com/MrWong99/scrivia/internal/detect"
	"github.com/MrWong99/scrivia/internal/discord"
	"github.com/MrWong99/scrivia/internal/discord/commands"
	"github.com/MrWong99/scrivia/internal/drive"
	"github.com/MrWong99/scrivia/internal/generator"
	"github.com/MrWong99/scrivia/internal/logging"
	"github.com/MrWong99/scrivia/internal/merger"
	"github.com/MrWong99/scrivia/internal/observe"
	"github.com/MrWong99/scrivia/internal/pipeline"
	"github.com/MrWong99/scrivia/internal/transcriber"
	"github.com/MrWong99/scrivia/pkg/audiosource"
	"github.com/MrWong99/scrivia/pkg/llm/anyllm"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scrivia: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scrivia: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "scrivia: invalid --log-level %q; valid values: debug, info, warn, error\n", *logLevel)
			return 1
		}
		cfg.Logging.Level = lvl
	}

	logging.Setup(cfg.Logging)
	slog.Info("scrivia starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "error", err)
		return 1
	}

	// The recognition model is loaded once and held for the process lifetime.
	recognizer, err := transcriber.New(cfg.Recognizer)
	if err != nil {
		slog.Error("failed to load recognition model", "error", err)
		return 1
	}
	defer recognizer.Close()

	var providerOpts []anyllmlib.Option
	if cfg.Generator.BaseURL != "" {
		providerOpts = append(providerOpts, anyllmlib.WithBaseURL(cfg.Generator.BaseURL))
	}
	provider, err := anyllm.New(cfg.Generator.Provider, cfg.Generator.Model, providerOpts...)
	if err != nil {
		slog.Error("failed to create LLM provider", "error", err)
		return 1
	}
	gen, err := generator.New(cfg.Generator, provider)
	if err != nil {
		slog.Error("failed to create minutes generator", "error", err)
		return 1
	}

	detector := detect.New(cfg.Source.BotID, cfg.Chat.WatchChannelID, cfg.Source.DomainAllowlist)

	// The bot needs a launch function before the pipeline exists, and the
	// pipeline's publisher needs the bot's session. The atomic pointer breaks
	// the cycle: panel edits arriving before wiring finishes are dropped.
	var pipe atomic.Pointer[pipeline.Pipeline]
	launch := func(handle minutes.RecordingHandle) bool {
		p := pipe.Load()
		if p == nil {
			slog.Warn("trigger before startup finished; dropped", "recording_id", handle.RecordingID)
			return false
		}
		return p.Start(handle)
	}

	bot, err := discord.New(cfg.Chat, detector, launch)
	if err != nil {
		slog.Error("failed to connect to Discord", "error", err)
		return 1
	}
	defer bot.Close()

	publisher := discord.NewPublisher(bot.Session(), cfg.Chat, cfg.Publisher)
	pl := pipeline.New(pipeline.Deps{
		Transcriber: recognizer,
		Merger:      merger.New(cfg.Merger),
		Generator:   gen,
		Publisher:   publisher,
		NewSource: func(handle minutes.RecordingHandle) audiosource.Source {
			return craig.New(handle, cfg.Source)
		},
	})
	pipe.Store(pl)

	var (
		watcher   *drive.Watcher
		processed *drive.ProcessedSet
	)
	if cfg.Drive.Enabled {
		client, err := drive.NewRESTClient(cfg.Drive.FolderID, cfg.Drive.CredentialsFile)
		if err != nil {
			slog.Error("failed to create drive client", "error", err)
			return 1
		}
		processed, err = drive.LoadProcessedSet(cfg.Drive.StateFile)
		if err != nil {
			slog.Error("failed to load processed-file state", "error", err)
			return 1
		}
		watcher = drive.NewWatcher(client, processed, cfg.Drive, pl.HandleDriveFile)
	}

	cmdDeps := commands.Deps{
		Config:    cfg,
		StartedAt: time.Now(),
		ParseURL:  detector.ParseURL,
		Launch:    pl.Start,
	}
	if watcher != nil {
		cmdDeps.DriveStatus = func() commands.DriveStatus {
			return commands.DriveStatus{
				Enabled:         true,
				FolderID:        cfg.Drive.FolderID,
				FilePattern:     cfg.Drive.FilePattern,
				PollIntervalSec: cfg.Drive.PollIntervalSec,
				ProcessedCount:  processed.Len(),
			}
		}
	}
	commands.NewMinutesCommands(bot.Router(), cmdDeps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if cfg.Observe.MetricsAddr != "" {
		checks := []observe.Check{
			{Name: "discord", Probe: func(context.Context) error {
				if bot.Session().State.User == nil {
					return errors.New("gateway session not ready")
				}
				return nil
			}},
		}
		g.Go(func() error { return observe.Serve(gctx, cfg.Observe.MetricsAddr, checks...) })
	}

	slog.Info("scrivia ready",
		"watch_channel", cfg.Chat.WatchChannelID,
		"output_channel", cfg.Chat.OutputChannelID,
		"drive_watcher", cfg.Drive.Enabled,
	)
	runErr := g.Wait()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pl.Shutdown(shutdownCtx); err != nil {
		slog.Warn("in-flight pipelines did not finish in time", "error", err)
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord close error", "error", err)
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown error", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "error", runErr)
		return 2
	}
	slog.Info("goodbye")
	return 0
}
