package runner

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/caffeineduck/wasmudf/abi"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// BatchRunner calls the guest export once per record. Each input column is
// passed as a pointer to its own Arrow IPC stream; the guest answers with a
// pointer to an IPC stream holding the output column in one or more
// batches.
type BatchRunner struct {
	base
	params  []api.ValueType
	results []api.ValueType
}

var _ udf.Runner = (*BatchRunner)(nil)

func newBatchRunner(b base) *BatchRunner {
	params := make([]api.ValueType, len(b.inputs))
	for i := range params {
		params[i] = api.ValueTypeI64
	}
	return &BatchRunner{
		base:    b,
		params:  params,
		results: []api.ValueType{api.ValueTypeI64},
	}
}

// Run evaluates the UDF over the whole record with a single guest call in a
// fresh sandbox.
func (r *BatchRunner) Run(ctx context.Context, rec arrow.Record) (out arrow.Record, err error) {
	start := r.metrics.start()
	rows := int(rec.NumRows())
	calls := 0
	defer func() { r.done(start, rows, calls, err) }()

	if err := r.checkInput(rec); err != nil {
		return nil, err
	}
	if rows == 0 {
		return r.emptyRecord(), nil
	}

	inst, err := r.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer inst.Close(ctx)

	mod := inst.Module()
	fn, err := abi.Function(mod, r.spec.InternalName, r.params, r.results)
	if err != nil {
		return nil, err
	}
	br := abi.NewBridge(mod, r.exports)

	args := make([]uint64, rec.NumCols())
	for i, col := range rec.Columns() {
		data, err := abi.EncodeColumn(rec.Schema().Field(i), col, r.mem)
		if err != nil {
			return nil, err
		}
		p, err := br.WriteBytes(ctx, data)
		if err != nil {
			return nil, err
		}
		args[i] = uint64(p)
		r.metrics.transferred(r.spec, "in", len(data))
	}
	r.log.Debug("arguments marshalled", zap.Int("columns", len(args)))

	res, err := fn.Call(ctx, args...)
	calls++
	if err != nil {
		return nil, trap(ctx, r.spec.InternalName, err)
	}
	r.log.Debug("guest invoked")

	p := abi.Pointer(res[0])
	if p.IsEmpty() {
		return nil, udf.EmptyResult(r.spec.InternalName)
	}
	data, err := br.Read(p)
	if err != nil {
		return nil, err
	}
	r.metrics.transferred(r.spec, "out", len(data))

	arr, err := abi.DecodeColumn(data, r.mem)
	if err != nil {
		return nil, err
	}
	defer arr.Release()

	if !arrow.TypeEqual(arr.DataType(), r.output.Type) {
		return nil, udf.TypeMismatch(r.spec.InternalName, "guest returned %s, want %s", arr.DataType(), r.output.Type)
	}
	if arr.Len() != rows {
		return nil, udf.Deserialization(r.spec.InternalName, nil, "guest returned %d rows for %d input rows", arr.Len(), rows)
	}
	if err := br.Release(ctx); err != nil {
		return nil, err
	}
	r.log.Debug("result decoded", zap.Int("bytes", len(data)))

	return r.record(arr), nil
}
