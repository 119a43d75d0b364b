// Package installer installs the Python packages the sensor SDK needs by
// running pip once with every requested package.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrPackageManager is returned when pip exits unsuccessfully
	ErrPackageManager = errors.New("package manager failed")
	// ErrNoPackages is returned when there is nothing to install
	ErrNoPackages = errors.New("no packages to install")
)

// Runner runs an external command, streaming its output
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run starts name with args and waits for it to exit. Cancelling ctx kills
// the process.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Installer invokes "<python> -m pip install"
type Installer struct {
	python string
	runner Runner
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
}

// New creates an installer. stdout and stderr receive pip's own output as it
// is written; a nil stderr means os.Stderr.
func New(python string, runner Runner, stdout, stderr io.Writer, logger zerolog.Logger) *Installer {
	if python == "" {
		python = "python3"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Installer{
		python: python,
		runner: runner,
		stdout: stdout,
		stderr: stderr,
		logger: logger,
	}
}

// Args returns the pip argument list for a manifest
func Args(m *Manifest) []string {
	args := []string{"-m", "pip", "install"}
	args = append(args, m.Packages...)
	if m.ExtraIndexURL != "" {
		args = append(args, extraIndexFlag, m.ExtraIndexURL)
	}
	return args
}

// Install runs pip exactly once for every package in m. It is never retried.
func (i *Installer) Install(ctx context.Context, m *Manifest) error {
	if m == nil || len(m.Packages) == 0 {
		return ErrNoPackages
	}

	args := Args(m)
	i.logger.Info().
		Strs("packages", m.Packages).
		Str("extra_index_url", m.ExtraIndexURL).
		Msg("Installing packages")

	var stderr bytes.Buffer
	if err := i.runner.Run(ctx, i.python, args, i.stdout, io.MultiWriter(i.stderr, &stderr)); err != nil {
		detail := strings.TrimSpace(stderr.String())
		i.logger.Error().Err(err).Str("stderr", detail).Msg("Package installation failed")
		if detail != "" {
			return fmt.Errorf("%w: %s %s: %w: %s", ErrPackageManager, i.python, strings.Join(args, " "), err, lastLine(detail))
		}
		return fmt.Errorf("%w: %s %s: %w", ErrPackageManager, i.python, strings.Join(args, " "), err)
	}

	i.logger.Info().Int("count", len(m.Packages)).Msg("Packages installed")
	return nil
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
