package abi

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/udf"
)

// EncodeColumn serializes a single column as an Arrow IPC stream holding
// one batch with one field.
func EncodeColumn(field arrow.Field, arr arrow.Array, mem memory.Allocator) ([]byte, error) {
	if !arrow.TypeEqual(field.Type, arr.DataType()) {
		return nil, udf.TypeMismatch("encode", "column of type %s for field %q of type %s",
			arr.DataType(), field.Name, field.Type)
	}

	schema := arrow.NewSchema([]arrow.Field{field}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, int64(arr.Len()))
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("write ipc batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close ipc stream: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeColumn reads an Arrow IPC stream and returns the concatenation of
// the first column of every batch. A stream with a schema but no batches
// yields an empty array of the schema's first field type.
func DecodeColumn(data []byte, mem memory.Allocator) (arrow.Array, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, udf.Deserialization("decode", err, "read ipc schema")
	}
	defer rdr.Release()

	schema := rdr.Schema()
	if schema.NumFields() == 0 {
		return nil, udf.Deserialization("decode", nil, "ipc stream has no fields")
	}
	dt := schema.Field(0).Type

	var parts []arrow.Array
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	for rdr.Next() {
		col := rdr.Record().Column(0)
		col.Retain()
		parts = append(parts, col)
	}
	if err := rdr.Err(); err != nil {
		return nil, udf.Deserialization("decode", err, "read ipc batch %d", len(parts))
	}

	switch len(parts) {
	case 0:
		bldr := array.NewBuilder(mem, dt)
		defer bldr.Release()
		return bldr.NewArray(), nil
	case 1:
		parts[0].Retain()
		return parts[0], nil
	}

	out, err := array.Concatenate(parts, mem)
	if err != nil {
		return nil, udf.Deserialization("decode", err, "concatenate %d batches", len(parts))
	}
	return out, nil
}
