package runner

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/caffeineduck/wasmudf/abi"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// RowWiseRunner calls the guest export once per row with scalar arguments.
type RowWiseRunner struct {
	base
	codecs  []abi.Codec
	result  abi.Codec
	params  []api.ValueType
	results []api.ValueType
}

var _ udf.Runner = (*RowWiseRunner)(nil)

func newRowWiseRunner(b base, output arrow.DataType) (*RowWiseRunner, error) {
	codecs, err := abi.CodecsFor(b.inputs)
	if err != nil {
		return nil, err
	}
	result, err := abi.CodecFor(output)
	if err != nil {
		return nil, err
	}
	return &RowWiseRunner{
		base:    b,
		codecs:  codecs,
		result:  result,
		params:  abi.ValueTypes(codecs),
		results: []api.ValueType{result.ValueType()},
	}, nil
}

// usesMemory reports whether any argument or the result is a string.
func (r *RowWiseRunner) usesMemory() bool {
	for _, c := range append([]abi.Codec{r.result}, r.codecs...) {
		if c.DataType().ID() == arrow.STRING {
			return true
		}
	}
	return false
}

// Run evaluates the UDF row by row in a fresh sandbox. A row with a null
// input yields a null output without calling the guest.
func (r *RowWiseRunner) Run(ctx context.Context, rec arrow.Record) (out arrow.Record, err error) {
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

	bldr := array.NewBuilder(r.mem, r.output.Type)
	defer bldr.Release()
	bldr.Reserve(rows)

	cols := rec.Columns()
	args := make([]uint64, len(r.codecs))
	for row := 0; row < rows; row++ {
		if anyNull(cols, row) {
			bldr.AppendNull()
			continue
		}

		for i, c := range r.codecs {
			if args[i], err = c.Encode(ctx, br, cols[i], row); err != nil {
				return nil, err
			}
		}

		res, err := fn.Call(ctx, args...)
		calls++
		if err != nil {
			return nil, trap(ctx, r.spec.InternalName, err)
		}

		if err := r.result.Append(br, bldr, res[0]); err != nil {
			return nil, err
		}
		if err := br.Release(ctx); err != nil {
			return nil, err
		}
	}
	r.log.Debug("rows evaluated", zap.Int("rows", rows), zap.Int("guest_calls", calls))

	arr := bldr.NewArray()
	defer arr.Release()
	return r.record(arr), nil
}

func anyNull(cols []arrow.Array, row int) bool {
	for _, c := range cols {
		if c.IsNull(row) {
			return true
		}
	}
	return false
}
