package wasmtest

import (
	"context"
	"sync"

	"github.com/caffeineduck/wasmudf/executor"
)

// A shared engine avoids paying runtime start-up in every test. It carries
// the Arrow host module so both guest kinds can be instantiated on it.
var (
	testEngine     *executor.Engine
	testEngineOnce sync.Once
	testEngineErr  error
)

// Engine returns the shared test engine. Guests get no stdin.
func Engine() (*executor.Engine, error) {
	testEngineOnce.Do(func() {
		ctx := context.Background()
		eng, err := executor.NewEngine(ctx, executor.WithStdin(nil), executor.WithArgs("wasmtest"))
		if err != nil {
			testEngineErr = err
			return
		}
		if err := InstantiateArrowHost(ctx, eng.Runtime()); err != nil {
			eng.Close(ctx)
			testEngineErr = err
			return
		}
		testEngine = eng
	})
	return testEngine, testEngineErr
}

// CloseEngine releases the shared engine's own reference. Modules still
// open keep it alive.
func CloseEngine() {
	if testEngine != nil {
		testEngine.Close(context.Background())
		testEngine = nil
		testEngineOnce = sync.Once{}
	}
}
