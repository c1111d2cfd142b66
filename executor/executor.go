package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned when an Engine is used after its last reference was
// released.
var ErrClosed = errors.New("executor: engine closed")

// Engine owns a wazero runtime and the modules compiled on it.
//
// An Engine is reference counted: NewEngine returns it with one reference,
// every Module compiled from it holds another, and the runtime is closed
// when the last one is released. Compiled modules are counted the same way
// and evicted when the last Module sharing them is closed.
type Engine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	cfg      engineConfig
	compiled map[string]*cachedModule
	group    singleflight.Group
	mu       sync.RWMutex
	refs     int
}

type cachedModule struct {
	compiled wazero.CompiledModule
	refs     int
}

// NewEngine creates an Engine with WASI preview1 available to guests.
func NewEngine(ctx context.Context, opts ...EngineOption) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(cfg.closeOnContextDone)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &Engine{
		runtime:  rt,
		cache:    cache,
		cfg:      cfg,
		compiled: make(map[string]*cachedModule),
		refs:     1,
	}, nil
}

// Runtime exposes the underlying runtime, e.g. to instantiate host modules
// that guests import.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Compile returns a Module for the given bytecode. Identical bytecode is
// compiled once per Engine while any Module of it is open, and concurrent
// compiles of it are collapsed.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Module, error) {
	sum := sha256.Sum256(wasm)
	digest := hex.EncodeToString(sum[:])

	for {
		compiled, err := e.getCompiled(ctx, digest, wasm)
		if err != nil {
			return nil, err
		}

		// The entry may have been evicted since getCompiled saw it.
		ok, err := e.retain(digest, compiled)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Module{engine: e, compiled: compiled, digest: digest}, nil
		}
	}
}

// Cached reports how many compiled modules the engine holds.
func (e *Engine) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// getCompiled returns a cached compiled module, compiling if necessary.
func (e *Engine) getCompiled(ctx context.Context, digest string, wasm []byte) (wazero.CompiledModule, error) {
	e.mu.RLock()
	if e.refs == 0 {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	if entry, ok := e.compiled[digest]; ok {
		e.mu.RUnlock()
		return entry.compiled, nil
	}
	e.mu.RUnlock()

	v, err, shared := e.group.Do(digest, func() (any, error) {
		e.mu.RLock()
		entry, ok := e.compiled[digest]
		e.mu.RUnlock()
		if ok {
			return entry.compiled, nil
		}

		compiled, err := e.runtime.CompileModule(ctx, wasm)
		if err != nil {
			return nil, fmt.Errorf("compile module: %w", err)
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.refs == 0 {
			compiled.Close(ctx)
			return nil, ErrClosed
		}
		e.compiled[digest] = &cachedModule{compiled: compiled}
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}

	e.cfg.logger.Debug("module compiled",
		zap.String("digest", digest[:12]),
		zap.Bool("shared", shared))
	return v.(wazero.CompiledModule), nil
}

// retain counts a new Module against both the cache entry and the engine.
// It reports false when the entry no longer holds compiled.
func (e *Engine) retain(digest string, compiled wazero.CompiledModule) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs == 0 {
		return false, ErrClosed
	}
	entry, ok := e.compiled[digest]
	if !ok || entry.compiled != compiled {
		return false, nil
	}
	entry.refs++
	e.refs++
	return true, nil
}

// release drops a Module's hold on its cache entry, closing the compiled
// module with the last one, and then the Module's engine reference.
func (e *Engine) release(ctx context.Context, digest string) error {
	e.mu.Lock()
	var evicted wazero.CompiledModule
	if entry, ok := e.compiled[digest]; ok {
		entry.refs--
		if entry.refs <= 0 {
			delete(e.compiled, digest)
			evicted = entry.compiled
		}
	}
	e.mu.Unlock()

	var err error
	if evicted != nil {
		err = evicted.Close(ctx)
		e.cfg.logger.Debug("module evicted", zap.String("digest", digest[:12]))
	}
	if cerr := e.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs == 0 {
		return ErrClosed
	}
	e.refs++
	return nil
}

// Acquire adds a reference for a new co-owner, who must call Close.
func (e *Engine) Acquire() (*Engine, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases one reference. The runtime, its compiled modules and the
// compilation cache are closed with the last reference.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}

	e.compiled = nil

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "wasmudf")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "wasmudf")
	}
	return filepath.Join(os.TempDir(), "wasmudf-cache")
}
