package runner

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/abi"
	"github.com/caffeineduck/wasmudf/executor"
	"go.uber.org/zap"
)

// Option configures Load.
type Option func(*config)

type config struct {
	engine          *executor.Engine
	engineOpts      []executor.EngineOption
	exports         abi.Exports
	mem             memory.Allocator
	logger          *zap.Logger
	metrics         *Metrics
	validateExports bool
}

func defaultConfig() config {
	return config{
		exports: abi.DefaultExports(),
		mem:     memory.DefaultAllocator,
	}
}

// WithEngine compiles into a shared engine instead of a private one. Host
// modules instantiated on the engine's runtime are visible to the guest.
// The runner takes its own reference; the caller keeps theirs.
func WithEngine(eng *executor.Engine) Option {
	return func(c *config) {
		c.engine = eng
	}
}

// WithEngineOptions configures the private engine created when WithEngine
// is not given.
func WithEngineOptions(opts ...executor.EngineOption) Option {
	return func(c *config) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// WithAllocatorExports overrides the guest allocator export names.
// Defaults to "wasm_alloc" and "wasm_free".
func WithAllocatorExports(alloc, free string) Option {
	return func(c *config) {
		c.exports.Alloc = alloc
		c.exports.Free = free
	}
}

// WithMemoryExport overrides the guest memory export name. Defaults to "memory".
func WithMemoryExport(name string) Option {
	return func(c *config) {
		c.exports.Memory = name
	}
}

// WithArrowAllocator sets the allocator for output records and IPC
// buffers. Defaults to memory.DefaultAllocator.
func WithArrowAllocator(mem memory.Allocator) Option {
	return func(c *config) {
		if mem != nil {
			c.mem = mem
		}
	}
}

// WithLogger sets the runner's logger. Defaults to the package Logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics records every Run in m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithValidateExports checks at load time that the target export exists
// with the expected signature, and that the allocator and memory exports
// are present when the strategy needs them.
func WithValidateExports() Option {
	return func(c *config) {
		c.validateExports = true
	}
}
