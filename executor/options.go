package executor

import (
	"io"
	"os"

	"go.uber.org/zap"
)

// EngineOption configures the Engine at creation time.
type EngineOption func(*engineConfig)

type engineConfig struct {
	diskCache          bool
	cacheDir           string
	memoryLimitPages   uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)
	closeOnContextDone bool
	startFunctions     []string
	args               []string
	stdin              io.Reader
	stdout             io.Writer
	stderr             io.Writer
	logger             *zap.Logger
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		closeOnContextDone: true,
		startFunctions:     []string{"_initialize"},
		args:               os.Args,
		stdin:              os.Stdin,
		stdout:             os.Stdout,
		stderr:             os.Stderr,
		logger:             zap.NewNop(),
	}
}

// WithDiskCache enables a persistent compilation cache.
// Optionally provide a custom directory; otherwise uses ~/.cache/wasmudf or XDG_CACHE_HOME/wasmudf.
//
// Examples:
//
//	executor.NewEngine(ctx, executor.WithDiskCache())            // default dir
//	executor.NewEngine(ctx, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) EngineOption {
	return func(c *engineConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum memory available to each sandbox.
// Each page is 64KB. Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(256) = 16MB max
//   - WithMemoryLimit(4096) = 256MB max
//
// Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) EngineOption {
	return func(c *engineConfig) {
		c.memoryLimitPages = pages
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)

// WithCloseOnContextDone controls whether a cancelled context aborts running
// guest code. Enabled by default.
func WithCloseOnContextDone(enabled bool) EngineOption {
	return func(c *engineConfig) {
		c.closeOnContextDone = enabled
	}
}

// WithStartFunctions sets the exports called after instantiation. Missing
// ones are skipped. Defaults to "_initialize", the WASI reactor entry point.
func WithStartFunctions(names ...string) EngineOption {
	return func(c *engineConfig) {
		c.startFunctions = names
	}
}

// WithArgs sets the guest's argv. Defaults to the host's os.Args.
func WithArgs(args ...string) EngineOption {
	return func(c *engineConfig) {
		c.args = args
	}
}

// WithStdin sets the guest's standard input. Defaults to os.Stdin; nil reads EOF.
func WithStdin(r io.Reader) EngineOption {
	return func(c *engineConfig) {
		c.stdin = r
	}
}

// WithStdout sets the guest's standard output. Defaults to os.Stdout; nil discards.
func WithStdout(w io.Writer) EngineOption {
	return func(c *engineConfig) {
		c.stdout = w
	}
}

// WithStderr sets the guest's standard error. Defaults to os.Stderr; nil discards.
func WithStderr(w io.Writer) EngineOption {
	return func(c *engineConfig) {
		c.stderr = w
	}
}

// WithLogger sets the engine's logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
