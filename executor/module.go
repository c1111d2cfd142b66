package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Module is a compiled guest module. It is immutable and safe to
// instantiate from many goroutines at once.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
	digest   string
	once     sync.Once
}

// Digest is the hex SHA-256 of the module bytecode.
func (m *Module) Digest() string {
	return m.digest
}

// ExportedFunctions returns the definitions of the module's function exports.
func (m *Module) ExportedFunctions() map[string]api.FunctionDefinition {
	return m.compiled.ExportedFunctions()
}

// ExportedMemories returns the definitions of the module's memory exports.
func (m *Module) ExportedMemories() map[string]api.MemoryDefinition {
	return m.compiled.ExportedMemories()
}

// ImportedFunctions returns the functions the module needs from the host.
func (m *Module) ImportedFunctions() []api.FunctionDefinition {
	return m.compiled.ImportedFunctions()
}

// Instantiate creates a fresh sandbox: its own linear memory and exports,
// stdio and args taken from the engine configuration, no filesystem. The
// instance is anonymous so any number may exist at once.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	cfg := m.engine.cfg
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions(cfg.startFunctions...).
		WithArgs(cfg.args...)
	if cfg.stdin != nil {
		moduleConfig = moduleConfig.WithStdin(cfg.stdin)
	}
	if cfg.stdout != nil {
		moduleConfig = moduleConfig.WithStdout(cfg.stdout)
	}
	if cfg.stderr != nil {
		moduleConfig = moduleConfig.WithStderr(cfg.stderr)
	}

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	return &Instance{mod: mod}, nil
}

// Close releases the module's reference on its engine. The compiled code is
// freed once no Module with the same digest remains open. It is idempotent.
func (m *Module) Close(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		err = m.engine.release(ctx, m.digest)
	})
	return err
}

// Instance is one sandbox. It must not be shared between calls.
type Instance struct {
	mod api.Module
}

// Module returns the live guest instance.
func (i *Instance) Module() api.Module {
	return i.mod
}

// Close destroys the sandbox and its memory.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}
