package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/report"
	"github.com/afroash/thermolog/internal/sampler"
	"github.com/afroash/thermolog/internal/sensor"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	daily := flag.Int("daily", 0, "print daily statistics for the last N days from the database and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)

	if *daily > 0 {
		if err := printDaily(os.Stdout, cfg.Database, *daily, logger); err != nil {
			logger.Fatal().Err(err).Msg("Daily report failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("Session failed")
		os.Exit(1)
	}
}

// run executes one sampling session. Readings and the summary go to
// stdout; stdin is only read in events mode, where Enter ends the session.
func run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) error {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "thermolog"
	}
	info := models.NewSessionInfo(host, cfg.Sensor.Backend, version, cfg.Session.Channels)
	logger = logger.With().Str("session", info.ID).Logger()

	logger.Info().
		Str("version", version).
		Str("backend", cfg.Sensor.Backend).
		Str("mode", cfg.Session.Mode).
		Msg("Starting thermolog")
	logger.Debug().Str("config", cfg.String()).Msg("Loaded configuration")

	factory, err := sensor.NewFactory(cfg.Sensor)
	if err != nil {
		return err
	}
	opts, err := sampler.OptionsFrom(cfg.Session, info.ID)
	if err != nil {
		return err
	}

	outs, err := openOutputs(cfg, info, logger)
	if err != nil {
		return err
	}

	reporter := report.New(stdout)
	listeners := append([]sensor.Listener{reporter}, outs.listeners()...)
	session := sampler.New(opts, factory, logger, listeners...)

	if err := session.Acquire(); err != nil {
		outs.close(nil)
		return err
	}

	if cfg.Session.Mode == config.ModeEvents {
		reporter.Banner("Press ENTER to stop")
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			bufio.NewReader(stdin).ReadString('\n')
			cancel()
		}()

		err := session.Watch(ctx)
		outs.close(nil)
		return err
	}

	reporter.Banner("Press CTRL+C to stop")
	summaries, runErr := session.Run(ctx)
	reporter.Summary(summaries)
	outs.close(summaries)

	logger.Info().Int("ticks", session.Ticks()).Msg("Session finished")
	return runErr
}
