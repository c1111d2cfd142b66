package executor_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/wasmudf/executor"
	"github.com/caffeineduck/wasmudf/internal/wasmtest"
	"github.com/tetratelabs/wazero/api"
)

// Shared engine to avoid a runtime start-up per test.
var sharedEngine *executor.Engine

func TestMain(m *testing.M) {
	var err error
	sharedEngine, err = wasmtest.Engine()
	if err != nil {
		panic("failed to create shared engine: " + err.Error())
	}

	code := m.Run()

	wasmtest.CloseEngine()
	os.Exit(code)
}

func compileScalar(t *testing.T, eng *executor.Engine) *executor.Module {
	t.Helper()
	mod, err := eng.Compile(context.Background(), wasmtest.ScalarGuest())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	t.Cleanup(func() { mod.Close(context.Background()) })
	return mod
}

func callAdd(t *testing.T, inst *executor.Instance, a, b int32) int32 {
	t.Helper()
	res, err := inst.Module().ExportedFunction("add").Call(context.Background(), api.EncodeI32(a), api.EncodeI32(b))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return api.DecodeI32(res[0])
}

func TestCompileAndInstantiate(t *testing.T) {
	ctx := context.Background()
	mod := compileScalar(t, sharedEngine)

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer inst.Close(ctx)

	if got := callAdd(t, inst, 6, 8); got != 14 {
		t.Errorf("expected 14, got %d", got)
	}
}

func TestCompileCachesByContent(t *testing.T) {
	a := compileScalar(t, sharedEngine)
	b := compileScalar(t, sharedEngine)

	if a.Digest() != b.Digest() {
		t.Errorf("expected equal digests, got %s and %s", a.Digest(), b.Digest())
	}
	if len(a.Digest()) != 64 {
		t.Errorf("expected hex sha256 digest, got %q", a.Digest())
	}

	c, err := sharedEngine.Compile(context.Background(), wasmtest.ArrowGuest())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer c.Close(context.Background())
	if c.Digest() == a.Digest() {
		t.Error("expected different digest for different bytecode")
	}
}

func TestCompileInvalidBytecode(t *testing.T) {
	_, err := sharedEngine.Compile(context.Background(), []byte("not wasm"))
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestModuleDefinitions(t *testing.T) {
	mod := compileScalar(t, sharedEngine)

	def, ok := mod.ExportedFunctions()["concat"]
	if !ok {
		t.Fatal("expected concat export")
	}
	if len(def.ParamTypes()) != 2 || def.ParamTypes()[0] != api.ValueTypeI64 {
		t.Errorf("unexpected concat params %v", def.ParamTypes())
	}
	if _, ok := mod.ExportedMemories()["memory"]; !ok {
		t.Error("expected memory export")
	}
	if n := len(mod.ImportedFunctions()); n != 0 {
		t.Errorf("expected no imports, got %d", n)
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	mod := compileScalar(t, sharedEngine)

	first, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer first.Close(ctx)
	second, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer second.Close(ctx)

	first.Module().ExportedMemory("memory").Write(0, []byte("first"))

	got, _ := second.Module().ExportedMemory("memory").Read(0, 5)
	if string(got) == "first" {
		t.Error("write to one instance is visible in another")
	}

	if _, err := first.Module().ExportedFunction("wasm_alloc").Call(ctx, 64); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	res, err := second.Module().ExportedFunction("wasm_alloc").Call(ctx, 64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if res[0] != wasmtest.HeapBase {
		t.Errorf("expected fresh heap at %d, got %d", wasmtest.HeapBase, res[0])
	}
}

func TestEngineRefCounting(t *testing.T) {
	ctx := context.Background()
	eng, err := executor.NewEngine(ctx)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	mod, err := eng.Compile(ctx, wasmtest.ScalarGuest())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// The module keeps the runtime alive after the creator lets go.
	if err := eng.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate after engine close: %v", err)
	}
	if got := callAdd(t, inst, 1, 2); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	inst.Close(ctx)

	if err := mod.Close(ctx); err != nil {
		t.Fatalf("module close: %v", err)
	}
	if err := mod.Close(ctx); err != nil {
		t.Errorf("second module close: %v", err)
	}

	if _, err := eng.Compile(ctx, wasmtest.ScalarGuest()); !errors.Is(err, executor.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := eng.Acquire(); !errors.Is(err, executor.ErrClosed) {
		t.Errorf("expected ErrClosed from Acquire, got %v", err)
	}
}

func TestCompiledModulesEvictedOnClose(t *testing.T) {
	ctx := context.Background()
	eng, err := executor.NewEngine(ctx)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer eng.Close(ctx)

	guests := [][]byte{wasmtest.ScalarGuest(), wasmtest.NoAllocGuest(), wasmtest.ArrowGuest()}
	var mods []*executor.Module
	for _, wasm := range guests {
		mod, err := eng.Compile(ctx, wasm)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		mods = append(mods, mod)
	}

	// A second module over the same bytecode shares the cache entry.
	again, err := eng.Compile(ctx, wasmtest.ScalarGuest())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if n := eng.Cached(); n != len(guests) {
		t.Fatalf("expected %d cached modules, got %d", len(guests), n)
	}

	if err := mods[0].Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := eng.Cached(); n != len(guests) {
		t.Errorf("expected shared entry to survive one close, got %d cached", n)
	}
	inst, err := again.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate shared module: %v", err)
	}
	if got := callAdd(t, inst, 2, 3); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	inst.Close(ctx)

	if err := again.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, mod := range mods[1:] {
		if err := mod.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if n := eng.Cached(); n != 0 {
		t.Errorf("expected empty cache after every module closed, got %d", n)
	}

	// Recompiling after eviction yields a working module.
	mod := compileScalar(t, eng)
	inst, err = mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate after eviction: %v", err)
	}
	defer inst.Close(ctx)
	if got := callAdd(t, inst, 4, 4); got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
}

func TestEngineMemoryLimit(t *testing.T) {
	ctx := context.Background()
	eng, err := executor.NewEngine(ctx, executor.WithMemoryLimit(executor.MemoryLimit1MB))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, wasmtest.ScalarGuest())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer inst.Close(ctx)

	alloc := inst.Module().ExportedFunction("wasm_alloc")
	if _, err := alloc.Call(ctx, 512*1024); err != nil {
		t.Fatalf("expected 512KB to fit in 1MB: %v", err)
	}
	if _, err := alloc.Call(ctx, 2*1024*1024); err == nil {
		t.Error("expected allocation beyond the memory limit to trap")
	}
}

func TestEngineCancellation(t *testing.T) {
	ctx := context.Background()
	mod := compileScalar(t, sharedEngine)

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer inst.Close(ctx)

	callCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = inst.Module().ExportedFunction("spin").Call(callCtx, 0, 0)
	if err == nil {
		t.Fatal("expected spin to be interrupted")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestDiskCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for i := range 2 {
		eng, err := executor.NewEngine(ctx, executor.WithDiskCache(dir))
		if err != nil {
			t.Fatalf("engine %d: %v", i, err)
		}
		mod, err := eng.Compile(ctx, wasmtest.ScalarGuest())
		if err != nil {
			t.Fatalf("compile %d: %v", i, err)
		}
		mod.Close(ctx)
		eng.Close(ctx)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected compilation cache to write to disk")
	}
}

func TestConcurrentCompileAndRun(t *testing.T) {
	const numGoroutines = 20
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	errs := make(chan error, numGoroutines)

	for i := range numGoroutines {
		go func(id int32) {
			defer wg.Done()
			ctx := context.Background()

			mod, err := sharedEngine.Compile(ctx, wasmtest.ScalarGuest())
			if err != nil {
				errs <- err
				return
			}
			defer mod.Close(ctx)

			inst, err := mod.Instantiate(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer inst.Close(ctx)

			res, err := inst.Module().ExportedFunction("add").Call(ctx, api.EncodeI32(id), api.EncodeI32(id))
			if err != nil {
				errs <- err
				return
			}
			if got := api.DecodeI32(res[0]); got != 2*id {
				errs <- errors.New("wrong sum")
			}
		}(int32(i))
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent run failed: %v", err)
	}
}
