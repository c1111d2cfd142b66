package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/abi"
	"github.com/caffeineduck/wasmudf/executor"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// base holds what both strategies share: the resolved spec, the compiled
// module and the ambient configuration. It is immutable after Load.
type base struct {
	spec    udf.Spec
	inputs  []arrow.DataType
	output  arrow.Field
	schema  *arrow.Schema
	module  *executor.Module
	exports abi.Exports
	mem     memory.Allocator
	log     *zap.Logger
	metrics *Metrics
}

func newBase(spec udf.Spec, inputs []arrow.DataType, output arrow.DataType, mod *executor.Module, cfg config) base {
	field := arrow.Field{Name: spec.Name(), Type: output, Nullable: true}

	log := cfg.logger
	if log == nil {
		log = Logger()
	}

	return base{
		spec:    spec.Clone(),
		inputs:  inputs,
		output:  field,
		schema:  arrow.NewSchema([]arrow.Field{field}, nil),
		module:  mod,
		exports: cfg.exports,
		mem:     cfg.mem,
		log:     log.With(zap.String("udf", spec.Name()), zap.String("strategy", spec.Strategy())),
		metrics: cfg.metrics,
	}
}

// Spec returns a copy of the spec the runner was loaded from.
func (b *base) Spec() udf.Spec {
	return b.spec.Clone()
}

// Close releases the compiled module.
func (b *base) Close(ctx context.Context) error {
	return b.module.Close(ctx)
}

// checkInput verifies the record's columns against the declared input types.
func (b *base) checkInput(rec arrow.Record) error {
	if got := int(rec.NumCols()); got != len(b.inputs) {
		return udf.TypeMismatch(b.spec.InternalName, "got %d input columns, want %d", got, len(b.inputs))
	}
	for i, want := range b.inputs {
		if got := rec.Column(i).DataType(); !arrow.TypeEqual(got, want) {
			return udf.TypeMismatch(b.spec.InternalName, "input column %d is %s, want %s", i, got, want)
		}
	}
	return nil
}

// record wraps arr as the single output column. The record holds its own
// reference to arr.
func (b *base) record(arr arrow.Array) arrow.Record {
	return array.NewRecord(b.schema, []arrow.Array{arr}, int64(arr.Len()))
}

func (b *base) emptyRecord() arrow.Record {
	bldr := array.NewBuilder(b.mem, b.output.Type)
	defer bldr.Release()
	arr := bldr.NewArray()
	defer arr.Release()
	return b.record(arr)
}

func (b *base) instantiate(ctx context.Context) (*executor.Instance, error) {
	inst, err := b.module.Instantiate(ctx)
	if err != nil {
		return nil, trap(ctx, "instantiate", err)
	}
	b.log.Debug("sandbox instantiated")
	return inst, nil
}

// done logs the outcome of a run and records its metrics.
func (b *base) done(start time.Time, rows, calls int, err error) {
	b.metrics.finish(b.spec, start, rows, calls, err)
	if err != nil {
		b.log.Warn("udf run failed",
			zap.Int("rows", rows),
			zap.Int("guest_calls", calls),
			zap.Error(err))
		return
	}
	b.log.Debug("udf run returned",
		zap.Int("rows", rows),
		zap.Int("guest_calls", calls),
		zap.Duration("duration", time.Since(start)))
}

// trap classifies a failed guest call.
func trap(ctx context.Context, op string, err error) error {
	e := udf.GuestTrap(op, err)

	var exit *sys.ExitError
	switch {
	case ctx.Err() != nil:
		e.Detail = "call interrupted: " + ctx.Err().Error()
	case errors.As(err, &exit):
		e.Detail = fmt.Sprintf("guest exited with code %d", exit.ExitCode())
	}
	return e
}
