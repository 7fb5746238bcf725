package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pithecene-io/nvplug/iox"
	"github.com/pithecene-io/nvplug/log"
)

// DefaultNvimPath is the editor binary used when none is configured.
const DefaultNvimPath = "nvim"

// stopGrace is how long Stop waits for the child after closing its stdin.
const stopGrace = 5 * time.Second

// EmbedConfig configures an embedded editor child process.
type EmbedConfig struct {
	// Path is the editor binary.
	Path string
	// Args are passed verbatim; callers normally lead with "--embed".
	Args []string
	// Env entries override the inherited environment.
	Env []string
}

// EmbedArgs returns the argument list for an embedded Neovim: "--embed"
// followed by extra, with any caller-supplied "--embed" dropped.
func EmbedArgs(extra []string) []string {
	args := []string{"--embed"}
	for _, a := range extra {
		if a != "--embed" {
			args = append(args, a)
		}
	}
	return args
}

// Embedded is a Stream over a child editor's stdout and stdin.
// The child's stderr is drained into the logger line by line.
type Embedded struct {
	*Stream

	cmd        *exec.Cmd
	logger     *log.Logger
	stderrDone chan struct{}
	waitErr    chan error

	stopOnce sync.Once
	stopErr  error
}

// StartEmbedded spawns the child editor process. The returned transport
// must still be started with Start to begin reading.
func StartEmbedded(ctx context.Context, cfg EmbedConfig, logger *log.Logger) (*Embedded, error) {
	if logger == nil {
		logger = log.Nop()
	}
	path := cfg.Path
	if path == "" {
		path = DefaultNvimPath
	}

	cmd := exec.CommandContext(ctx, path, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = deduplicateEnv(append(os.Environ(), cfg.Env...))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}
	logger.Info("embedded editor started", map[string]any{
		"path": path,
		"pid":  cmd.Process.Pid,
	})

	e := &Embedded{
		Stream:     NewStream(stdout, stdin, logger, stdin),
		cmd:        cmd,
		logger:     logger,
		stderrDone: make(chan struct{}),
		waitErr:    make(chan error, 1),
	}

	go func() {
		defer close(e.stderrDone)
		err := iox.DrainLines(stderr, func(line string) {
			logger.Warn("editor stderr", map[string]any{"line": line})
		})
		if err != nil {
			logger.Debug("editor stderr drain stopped", map[string]any{"error": err.Error()})
		}
	}()

	return e, nil
}

// Stop closes the child's stdin, waits for it to exit, and kills it if
// it is still running after a grace period.
func (e *Embedded) Stop() error {
	e.stopOnce.Do(func() { e.stopErr = e.stop() })
	return e.stopErr
}

func (e *Embedded) stop() error {
	stopErr := e.Stream.Stop()

	// Wait closes the pipes, so every reader must finish first.
	go func() {
		<-e.stderrDone
		if e.started.Load() {
			<-e.done
		}
		e.waitErr <- e.cmd.Wait()
	}()

	select {
	case err := <-e.waitErr:
		e.logExit(err)
	case <-time.After(stopGrace):
		e.logger.Warn("embedded editor did not exit, killing", map[string]any{"pid": e.cmd.Process.Pid})
		if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			stopErr = errors.Join(stopErr, err)
		}
		e.logExit(<-e.waitErr)
	}
	return stopErr
}

func (e *Embedded) logExit(err error) {
	e.logger.Info("embedded editor exited", map[string]any{"exit_code": exitCode(err)})
}

// exitCode extracts a process exit code from a Wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return -1
}

// deduplicateEnv keeps the last occurrence of each env var key so that
// configured entries win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
