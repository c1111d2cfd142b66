package wasmtest

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import module ArrowGuest expects.
const HostModule = "env"

type hostImpl func(mem memory.Allocator, cols []arrow.Array) ([]byte, error)

var hostImpls = map[string]hostImpl{
	"add_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return zip(mem, cols, array.NewInt32Builder(mem), func(x, y int32) int32 { return x + y })
	},
	"add_i64_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return zip(mem, cols, array.NewInt64Builder(mem), func(x, y int64) int64 { return x + y })
	},
	"add_i8_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return addNarrow(mem, cols, array.NewInt8Builder(mem), math.MinInt8, math.MaxInt8)
	},
	"add_i16_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return addNarrow(mem, cols, array.NewInt16Builder(mem), math.MinInt16, math.MaxInt16)
	},
	"mul_f32_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return zip(mem, cols, array.NewFloat32Builder(mem), func(x, y float32) float32 { return x * y })
	},
	"mul_f64_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return zip(mem, cols, array.NewFloat64Builder(mem), func(x, y float64) float64 { return x * y })
	},
	"concat_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return zip(mem, cols, array.NewStringBuilder(mem), func(x, y string) string { return x + y })
	},
	"not_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return mapColumn(mem, cols[0], array.NewBooleanBuilder(mem), func(x bool) bool { return !x })
	},
	"next_day_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return mapColumn(mem, cols[0], array.NewDate32Builder(mem), func(x arrow.Date32) arrow.Date32 { return x + 1 })
	},
	"next_day_ms_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		return mapColumn(mem, cols[0], array.NewDate64Builder(mem), func(x arrow.Date64) arrow.Date64 { return x + MillisPerDay })
	},
	"split_arrow": split,
	"empty_arrow": func(memory.Allocator, []arrow.Array) ([]byte, error) {
		return nil, nil
	},
	"garbage_arrow": func(memory.Allocator, []arrow.Array) ([]byte, error) {
		return []byte("this is not an arrow stream"), nil
	},
	"wrong_type_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		bldr := array.NewInt64Builder(mem)
		defer bldr.Release()
		for i := 0; i < cols[0].Len(); i++ {
			bldr.Append(int64(i))
		}
		return encode(mem, bldr.NewArray())
	},
	"short_arrow": func(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
		n := cols[0].Len()
		if n == 0 {
			return encode(mem, array.NewSlice(cols[0], 0, 0))
		}
		return encode(mem, array.NewSlice(cols[0], 0, int64(n-1)))
	},
}

// InstantiateArrowHost registers the host functions ArrowGuest imports on
// rt. It may be called once per runtime.
func InstantiateArrowHost(ctx context.Context, rt wazero.Runtime) error {
	hb := rt.NewHostModuleBuilder(HostModule)
	for _, f := range arrowFuncs {
		params := []api.ValueType{api.ValueTypeI64}
		if f.arity == 2 {
			params = append(params, api.ValueTypeI64)
		}
		hb.NewFunctionBuilder().
			WithGoModuleFunction(hostFunc(f.arity, hostImpls[f.name]), params, []api.ValueType{api.ValueTypeI64}).
			Export(f.name)
	}
	if _, err := hb.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s host module: %w", HostModule, err)
	}
	return nil
}

// hostFunc decodes the IPC arguments from the calling guest, runs impl and
// writes its answer back through the guest's allocator. Errors panic, which
// wazero reports to the caller as a failed call.
func hostFunc(arity int, impl hostImpl) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		mem := memory.DefaultAllocator
		br := abi.NewBridge(mod, abi.DefaultExports())

		cols := make([]arrow.Array, arity)
		for i := range cols {
			data, err := br.Read(abi.Pointer(stack[i]))
			if err != nil {
				panic(err)
			}
			arr, err := abi.DecodeColumn(data, mem)
			if err != nil {
				panic(err)
			}
			cols[i] = arr
		}
		defer func() {
			for _, c := range cols {
				c.Release()
			}
		}()

		out, err := impl(mem, cols)
		if err != nil {
			panic(err)
		}
		if out == nil {
			stack[0] = 0
			return
		}
		p, err := br.WriteBytes(ctx, out)
		if err != nil {
			panic(err)
		}
		stack[0] = uint64(p)
	}
}

type valuer[T any] interface {
	arrow.Array
	Value(int) T
}

type appender[T any] interface {
	array.Builder
	Append(T)
}

func zip[T any](mem memory.Allocator, cols []arrow.Array, bldr appender[T], op func(x, y T) T) ([]byte, error) {
	defer bldr.Release()
	x, ok := cols[0].(valuer[T])
	if !ok {
		return nil, fmt.Errorf("unexpected column type %s", cols[0].DataType())
	}
	y, ok := cols[1].(valuer[T])
	if !ok {
		return nil, fmt.Errorf("unexpected column type %s", cols[1].DataType())
	}
	if x.Len() != y.Len() {
		return nil, fmt.Errorf("column lengths differ: %d and %d", x.Len(), y.Len())
	}

	for i := 0; i < x.Len(); i++ {
		if x.IsNull(i) || y.IsNull(i) {
			bldr.AppendNull()
			continue
		}
		bldr.Append(op(x.Value(i), y.Value(i)))
	}
	return encode(mem, bldr.NewArray())
}

func mapColumn[T any](mem memory.Allocator, col arrow.Array, bldr appender[T], op func(x T) T) ([]byte, error) {
	defer bldr.Release()
	x, ok := col.(valuer[T])
	if !ok {
		return nil, fmt.Errorf("unexpected column type %s", col.DataType())
	}
	for i := 0; i < x.Len(); i++ {
		if x.IsNull(i) {
			bldr.AppendNull()
			continue
		}
		bldr.Append(op(x.Value(i)))
	}
	return encode(mem, bldr.NewArray())
}

// addNarrow sums in int32, as a guest working on i32 values would, and
// answers a T column. When any sum falls outside [lo, hi] the widened int32
// column is answered instead.
func addNarrow[T int8 | int16](mem memory.Allocator, cols []arrow.Array, bldr appender[T], lo, hi int32) ([]byte, error) {
	x, ok := cols[0].(valuer[T])
	if !ok {
		bldr.Release()
		return nil, fmt.Errorf("unexpected column type %s", cols[0].DataType())
	}
	y, ok := cols[1].(valuer[T])
	if !ok {
		bldr.Release()
		return nil, fmt.Errorf("unexpected column type %s", cols[1].DataType())
	}

	wide := array.NewInt32Builder(mem)
	defer wide.Release()
	fits := true
	for i := 0; i < x.Len(); i++ {
		if x.IsNull(i) || y.IsNull(i) {
			wide.AppendNull()
			continue
		}
		sum := int32(x.Value(i)) + int32(y.Value(i))
		if sum < lo || sum > hi {
			fits = false
		}
		wide.Append(sum)
	}
	if !fits {
		bldr.Release()
		return encode(mem, wide.NewArray())
	}
	return zip(mem, cols, bldr, func(a, b T) T { return a + b })
}

// encode serializes arr and releases it.
func encode(mem memory.Allocator, arr arrow.Array) ([]byte, error) {
	defer arr.Release()
	return abi.EncodeColumn(arrow.Field{Name: "result", Type: arr.DataType(), Nullable: true}, arr, mem)
}

// split answers with the input column cut into two batches.
func split(mem memory.Allocator, cols []arrow.Array) ([]byte, error) {
	col := cols[0]
	schema := arrow.NewSchema([]arrow.Field{{Name: "result", Type: col.DataType(), Nullable: true}}, nil)

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	half := int64(col.Len() / 2)
	for _, bounds := range [][2]int64{{0, half}, {half, int64(col.Len())}} {
		part := array.NewSlice(col, bounds[0], bounds[1])
		rec := array.NewRecord(schema, []arrow.Array{part}, bounds[1]-bounds[0])
		err := w.Write(rec)
		rec.Release()
		part.Release()
		if err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
