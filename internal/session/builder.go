// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Builder builds and runs a process under test. BuildAndRun blocks until
// the process has exited.
type Builder interface {
	BuildAndRun(ctx context.Context, repository string) error
}

// CommandRunner runs name with args in dir and returns its combined output
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	return cmd.CombinedOutput()
}

// GitBuilder clones a repository into a scratch directory, runs its launch
// script (run.sh with bash, or run.ps1 with powershell on Windows) and
// removes the clone afterwards
type GitBuilder struct {
	logger  *slog.Logger
	workDir string
	goos    string
	run     CommandRunner
}

var _ Builder = (*GitBuilder)(nil)

// GitBuilderOptFn configures a GitBuilder
type GitBuilderOptFn func(*GitBuilder)

// WithCommandRunner replaces the function used to run git and the script
func WithCommandRunner(r CommandRunner) GitBuilderOptFn {
	return func(g *GitBuilder) {
		g.run = r
	}
}

// WithGOOS selects the launch script as if running on goos
func WithGOOS(goos string) GitBuilderOptFn {
	return func(g *GitBuilder) {
		g.goos = goos
	}
}

// NewGitBuilder creates a builder cloning below workDir; an empty workDir
// uses the system temp directory
func NewGitBuilder(workDir string, logger *slog.Logger, opts ...GitBuilderOptFn) *GitBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GitBuilder{
		logger:  logger.With("service", "git-builder"),
		workDir: workDir,
		goos:    runtime.GOOS,
		run:     execRunner,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitBuilder) BuildAndRun(ctx context.Context, repository string) error {
	if strings.TrimSpace(repository) == "" {
		return fmt.Errorf("empty repository reference")
	}

	scratch, err := os.MkdirTemp(g.workDir, "thor-session-")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			g.logger.Warn("failed to remove clone", "dir", scratch, "error", err)
		}
	}()

	clone := filepath.Join(scratch, "src")
	g.logger.Info("Cloning repository", "repository", repository, "dir", clone)
	if out, err := g.run(ctx, scratch, "git", "clone", "--", repository, clone); err != nil {
		return fmt.Errorf("git clone %s failed: %w: %s", repository, err, tail(out))
	}

	name, args := g.launchCommand()
	g.logger.Info("Starting process under test", "repository", repository, "command", name, "args", args)
	out, err := g.run(ctx, clone, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w: %s", name, strings.Join(args, " "), err, tail(out))
	}
	g.logger.Info("Process under test finished", "repository", repository)
	g.logger.Debug("Process output", "repository", repository, "output", tail(out))
	return nil
}

func (g *GitBuilder) launchCommand() (string, []string) {
	if g.goos == "windows" {
		return "powershell", []string{"./run.ps1"}
	}
	return "bash", []string{"run.sh"}
}

// tail returns the last lines of command output for error messages
func tail(out []byte) string {
	const maxLines = 10
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
