package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/installer"
)

func main() {
	manifestPath := flag.String("r", "", "requirements manifest (installs Phidget22 when empty)")
	python := flag.String("python", "python3", "python interpreter used to run pip")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := config.LoggingConfig{Level: *logLevel, Format: "text"}.NewLogger(os.Stderr)

	manifest := &installer.Manifest{Packages: append([]string(nil), installer.DefaultPackages...)}
	if *manifestPath != "" {
		m, err := installer.LoadManifest(*manifestPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load manifest")
		}
		manifest = m
	}
	// Extra positional arguments are installed as well
	manifest.Packages = append(manifest.Packages, flag.Args()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	inst := installer.New(*python, installer.ExecRunner{}, os.Stdout, os.Stderr, logger)
	if err := inst.Install(ctx, manifest); err != nil {
		if errors.Is(err, installer.ErrNoPackages) {
			fmt.Fprintln(os.Stderr, "Nothing to install")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Failed to install packages: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Successfully installed %d package(s)\n", len(manifest.Packages))
}
