package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/internal/wasmtest"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func int32Pairs(mem memory.Allocator, pairs ...[2]int32) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int32},
		{Name: "b", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for _, p := range pairs {
		b.Field(0).(*array.Int32Builder).Append(p[0])
		b.Field(1).(*array.Int32Builder).Append(p[1])
	}
	return b.NewRecord()
}

func TestMetricsRecordRuns(t *testing.T) {
	ctx := context.Background()
	eng, err := wasmtest.Engine()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	spec := udf.Spec{ExportName: "add", InternalName: "add",
		InputTypes: []string{"int32", "int32"}, OutputTypes: []string{"int32"}}
	r, err := Load(ctx, spec, wasmtest.ScalarGuest(), WithEngine(eng), WithMetrics(m))
	require.NoError(t, err)
	defer r.Close(ctx)

	rec := int32Pairs(memory.DefaultAllocator, [2]int32{1, 2}, [2]int32{3, 4}, [2]int32{5, 6})
	defer rec.Release()

	for range 2 {
		out, err := r.Run(ctx, rec)
		require.NoError(t, err)
		out.Release()
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("add", "row_wise", "ok")))
	require.Equal(t, 6.0, testutil.ToFloat64(m.rows.WithLabelValues("add")))
	require.Equal(t, 6.0, testutil.ToFloat64(m.guestCalls.WithLabelValues("add")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.active))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestMetricsRecordFailureKind(t *testing.T) {
	ctx := context.Background()
	eng, err := wasmtest.Engine()
	require.NoError(t, err)

	m := NewMetrics(nil)
	spec := udf.Spec{ExportName: "add_arrow", InternalName: "empty_arrow",
		InputTypes: []string{"int32", "int32"}, OutputTypes: []string{"int32"}, Arrow: true}
	r, err := Load(ctx, spec, wasmtest.ArrowGuest(), WithEngine(eng), WithMetrics(m))
	require.NoError(t, err)
	defer r.Close(ctx)

	rec := int32Pairs(memory.DefaultAllocator, [2]int32{1, 2})
	defer rec.Release()

	// empty_arrow is unary, so the two-column call fails its signature check.
	_, err = r.Run(ctx, rec)
	require.ErrorIs(t, err, udf.ErrTypeMismatch)

	require.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("add_arrow", "batch_ipc", "type_mismatch")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.rows.WithLabelValues("add_arrow")))
}

func TestMetricsCountIPCBytes(t *testing.T) {
	ctx := context.Background()
	eng, err := wasmtest.Engine()
	require.NoError(t, err)

	m := NewMetrics(nil)
	spec := udf.Spec{ExportName: "add", InternalName: "add_arrow",
		InputTypes: []string{"int32", "int32"}, OutputTypes: []string{"int32"}, Arrow: true}
	r, err := Load(ctx, spec, wasmtest.ArrowGuest(), WithEngine(eng), WithMetrics(m))
	require.NoError(t, err)
	defer r.Close(ctx)

	rec := int32Pairs(memory.DefaultAllocator, [2]int32{6, 8})
	defer rec.Release()

	out, err := r.Run(ctx, rec)
	require.NoError(t, err)
	out.Release()

	require.Greater(t, testutil.ToFloat64(m.bytes.WithLabelValues("add", "in")), 0.0)
	require.Greater(t, testutil.ToFloat64(m.bytes.WithLabelValues("add", "out")), 0.0)
	require.Equal(t, 1.0, testutil.ToFloat64(m.guestCalls.WithLabelValues("add")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	start := m.start()
	m.transferred(udf.Spec{}, "in", 10)
	m.finish(udf.Spec{}, start, 1, 1, nil)
}

func TestStatus(t *testing.T) {
	require.Equal(t, "ok", status(nil))
	require.Equal(t, "empty_result", status(udf.EmptyResult("f")))
	require.Equal(t, "error", status(errors.New("boom")))
}
