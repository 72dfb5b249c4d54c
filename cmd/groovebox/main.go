// Package main provides the groovebox bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osahiro/groovebox/internal/app/admit"
	"github.com/osahiro/groovebox/internal/app/session"
	"github.com/osahiro/groovebox/internal/app/session/registry"
	"github.com/osahiro/groovebox/internal/infra/config"
	"github.com/osahiro/groovebox/internal/infra/discord"
	"github.com/osahiro/groovebox/internal/infra/logger"
	ytdlpresolver "github.com/osahiro/groovebox/internal/infra/ytdlp"
)

var (
	app        = kingpin.New("groovebox", "groovebox music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/groovebox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	// Logger before config so load failures are reported structurally
	cfg, err := config.Load(*configPath)

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if cfg != nil {
		loggerConfig = logger.Config{Output: cfg.Logging.Output, Level: cfg.Logging.Level}
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if lerr := logger.Init(loggerConfig); lerr != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", lerr))
	}

	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	// Fetch the extractor binary when absent so a clean host works out
	// of the box.
	ytdlp.MustInstall(ctx, nil)

	admission, err := buildAdmission(cfg)
	if err != nil {
		return fmt.Errorf("invalid admission config: %w", err)
	}

	resolver := ytdlpresolver.New(ytdlpresolver.Config{
		ForceIPv4: cfg.Resolver.ForceIPv4,
		Timeout:   cfg.ResolverTimeout(),
	})

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent
	dg.State.TrackVoice = true

	reg := registry.New(
		session.Config{
			IdleTimeout:   cfg.IdleTimeout(),
			MaxPause:      cfg.MaxPause(),
			DefaultVolume: cfg.DefaultVolume(),
			MaxQueueSize:  cfg.Queue.MaxSize,
		},
		resolver,
		func(guildID string) session.Transport {
			return discord.NewTransport(dg, guildID, cfg.Playback.BitrateKbps)
		},
		admission,
	)

	gateway := discord.NewGateway(dg, reg, cfg.Discord.Prefix)
	gateway.Start()

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	defer func() {
		if err := dg.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close gateway connection: %v", err)
		}
	}()

	zlog.Info().Msgf("Bot started: prefix=%s idle_timeout=%v", cfg.Discord.Prefix, cfg.IdleTimeout())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	// Graceful shutdown: destroy every session and wait for the loops
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg.Shutdown(shutdownCtx)

	zlog.Info().Msg("Bot stopped")
	return nil
}

// buildAdmission assembles the enqueue admission chain from config.
func buildAdmission(cfg *config.Config) (*admit.Chain, error) {
	chain := admit.NewChain()

	durationLimit, err := admit.NewDurationLimit(cfg.Queue.Admission)
	if err != nil {
		return nil, fmt.Errorf("duration_limit: %w", err)
	}
	chain.Add(durationLimit)

	if enabled, ok := cfg.Queue.Admission["reject_duplicates"].(bool); ok && enabled {
		duplicate, err := admit.NewDuplicateTrack(cfg.Queue.Admission)
		if err != nil {
			return nil, fmt.Errorf("duplicate_track: %w", err)
		}
		chain.Add(duplicate)
	}

	return chain, nil
}
