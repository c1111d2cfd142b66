package main

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/internal/wasmtest"
	"github.com/caffeineduck/wasmudf/runner"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/stretchr/testify/require"
)

func loadForRepl(t *testing.T, spec udf.Spec) (udf.Runner, []arrow.DataType) {
	t.Helper()
	ctx := context.Background()

	r, err := runner.Load(ctx, spec, wasmtest.ScalarGuest(), runner.WithEngine(sharedEngine))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(ctx) })

	inputs, _, err := spec.Resolve()
	require.NoError(t, err)
	return r, inputs
}

func TestEvalLine(t *testing.T) {
	ctx := context.Background()
	r, inputs := loadForRepl(t, addSpec(false))

	out, err := evalLine(ctx, r, inputs, "6, 8")
	require.NoError(t, err)
	require.Equal(t, "14", out)

	out, err = evalLine(ctx, r, inputs, "null, 8")
	require.NoError(t, err)
	require.Equal(t, "null", out)

	_, err = evalLine(ctx, r, inputs, "6")
	require.ErrorContains(t, err, "got 1 values, want 2")

	_, err = evalLine(ctx, r, inputs, "six, 8")
	require.ErrorContains(t, err, `"six" is not a valid int32`)
}

func TestEvalLineQuotedStrings(t *testing.T) {
	ctx := context.Background()
	r, inputs := loadForRepl(t, udf.Spec{InternalName: "concat",
		InputTypes: []string{"string", "string"}, OutputTypes: []string{"string"}})

	out, err := evalLine(ctx, r, inputs, `"hello, ", world`)
	require.NoError(t, err)
	require.Equal(t, "hello, world", out)
}

func TestParseRow(t *testing.T) {
	inputs := []arrow.DataType{arrow.PrimitiveTypes.Int64, arrow.FixedWidthTypes.Boolean, arrow.BinaryTypes.String}

	rec, err := parseRow(memory.DefaultAllocator, inputs, `42, true, null`)
	require.NoError(t, err)
	defer rec.Release()

	require.Equal(t, int64(1), rec.NumRows())
	require.Equal(t, int64(42), rec.Column(0).(*array.Int64).Value(0))
	require.True(t, rec.Column(1).(*array.Boolean).Value(0))
	require.True(t, rec.Column(2).IsNull(0))

	rec, err = parseRow(memory.DefaultAllocator, nil, "anything")
	require.NoError(t, err)
	defer rec.Release()
	require.Equal(t, int64(1), rec.NumRows())
	require.Equal(t, int64(0), rec.NumCols())
}

func TestDescribeSpec(t *testing.T) {
	require.Equal(t, "export=add internal=add_arrow inputs=[int32, int32] output=int32 strategy=batch_ipc",
		describeSpec(addSpec(true)))
}
