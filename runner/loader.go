package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/caffeineduck/wasmudf/abi"
	"github.com/caffeineduck/wasmudf/executor"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Load compiles wasm once and returns the runner selected by spec.Arrow.
// Spec and type errors are reported before anything is compiled; no guest
// code runs during Load.
func Load(ctx context.Context, spec udf.Spec, wasm []byte, opts ...Option) (udf.Runner, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	inputs, output, err := spec.Resolve()
	if err != nil {
		return nil, err
	}

	eng := cfg.engine
	if eng == nil {
		engineOpts := cfg.engineOpts
		if cfg.logger != nil {
			engineOpts = append([]executor.EngineOption{executor.WithLogger(cfg.logger)}, engineOpts...)
		}
		if eng, err = executor.NewEngine(ctx, engineOpts...); err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		// The module holds its own reference.
		defer eng.Close(ctx)
	}

	mod, err := eng.Compile(ctx, wasm)
	if err != nil {
		if errors.Is(err, executor.ErrClosed) {
			return nil, err
		}
		return nil, udf.ModuleCompilation(err)
	}

	b := newBase(spec, inputs, output, mod, cfg)

	var r interface {
		udf.Runner
		signature() (params, results []api.ValueType)
		usesMemory() bool
	}
	if spec.Arrow {
		r = newBatchRunner(b)
	} else if r, err = newRowWiseRunner(b, output); err != nil {
		mod.Close(ctx)
		return nil, err
	}

	if cfg.validateExports {
		params, results := r.signature()
		if err := validateExports(mod, spec.InternalName, params, results, cfg.exports, r.usesMemory()); err != nil {
			mod.Close(ctx)
			return nil, err
		}
	}

	b.log.Debug("udf loaded",
		zap.String("digest", mod.Digest()[:12]),
		zap.Strings("inputs", spec.InputTypes),
		zap.String("output", spec.OutputType()))
	return r, nil
}

func (r *RowWiseRunner) signature() (params, results []api.ValueType) {
	return r.params, r.results
}

func (r *BatchRunner) signature() (params, results []api.ValueType) {
	return r.params, r.results
}

func (r *BatchRunner) usesMemory() bool {
	return true
}

// validateExports checks the compiled module's export definitions without
// instantiating it.
func validateExports(mod *executor.Module, name string, params, results []api.ValueType, exports abi.Exports, memory bool) error {
	funcs := mod.ExportedFunctions()

	def, ok := funcs[name]
	if !ok {
		return udf.ExportNotFound(name, "function")
	}
	if err := abi.CheckSignature(name, def, params, results); err != nil {
		return err
	}
	if !memory {
		return nil
	}

	return abi.CheckAllocator(funcs, mod.ExportedMemories(), exports)
}
