package abi

import (
	"bytes"
	"context"
	"math"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/tetratelabs/wazero/api"
)

// Codec converts between one Arrow column type and its row-wise wire value.
//
// Fixed-width types travel as a single wasm value; strings travel as a
// Pointer to a NUL-terminated copy in guest memory.
type Codec interface {
	// DataType is the Arrow type handled by the codec.
	DataType() arrow.DataType

	// ValueType is the wasm value kind used on the wire.
	ValueType() api.ValueType

	// Encode produces the wire value of arr[row]. arr[row] must not be null.
	Encode(ctx context.Context, b *Bridge, arr arrow.Array, row int) (uint64, error)

	// Append decodes a wire value returned by the guest onto bldr.
	Append(b *Bridge, bldr array.Builder, v uint64) error
}

// CodecFor returns the codec for dt.
func CodecFor(dt arrow.DataType) (Codec, error) {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.DATE32, arrow.BOOL:
		return numericCodec{dt: dt, vt: api.ValueTypeI32}, nil
	case arrow.INT64, arrow.DATE64:
		return numericCodec{dt: dt, vt: api.ValueTypeI64}, nil
	case arrow.FLOAT32:
		return numericCodec{dt: dt, vt: api.ValueTypeF32}, nil
	case arrow.FLOAT64:
		return numericCodec{dt: dt, vt: api.ValueTypeF64}, nil
	case arrow.STRING:
		return stringCodec{}, nil
	}
	return nil, udf.UnsupportedType(dt.String())
}

// CodecsFor returns one codec per type.
func CodecsFor(types []arrow.DataType) ([]Codec, error) {
	codecs := make([]Codec, len(types))
	for i, dt := range types {
		c, err := CodecFor(dt)
		if err != nil {
			return nil, err
		}
		codecs[i] = c
	}
	return codecs, nil
}

// ValueTypes lists the wire kinds of codecs, in order.
func ValueTypes(codecs []Codec) []api.ValueType {
	vts := make([]api.ValueType, len(codecs))
	for i, c := range codecs {
		vts[i] = c.ValueType()
	}
	return vts
}

type numericCodec struct {
	dt arrow.DataType
	vt api.ValueType
}

func (c numericCodec) DataType() arrow.DataType { return c.dt }

func (c numericCodec) ValueType() api.ValueType { return c.vt }

func (c numericCodec) Encode(_ context.Context, _ *Bridge, arr arrow.Array, row int) (uint64, error) {
	switch a := arr.(type) {
	case *array.Int8:
		return api.EncodeI32(int32(a.Value(row))), nil
	case *array.Int16:
		return api.EncodeI32(int32(a.Value(row))), nil
	case *array.Int32:
		return api.EncodeI32(a.Value(row)), nil
	case *array.Date32:
		return api.EncodeI32(int32(a.Value(row))), nil
	case *array.Boolean:
		if a.Value(row) {
			return 1, nil
		}
		return 0, nil
	case *array.Int64:
		return api.EncodeI64(a.Value(row)), nil
	case *array.Date64:
		return api.EncodeI64(int64(a.Value(row))), nil
	case *array.Float32:
		return api.EncodeF32(a.Value(row)), nil
	case *array.Float64:
		return api.EncodeF64(a.Value(row)), nil
	}
	return 0, udf.TypeMismatch("encode", "column of type %s, want %s", arr.DataType(), c.dt)
}

func (c numericCodec) Append(_ *Bridge, bldr array.Builder, v uint64) error {
	switch b := bldr.(type) {
	case *array.Int8Builder:
		n := int32(uint32(v))
		if n < math.MinInt8 || n > math.MaxInt8 {
			return udf.TypeMismatch("decode", "result %d overflows int8", n)
		}
		b.Append(int8(n))
	case *array.Int16Builder:
		n := int32(uint32(v))
		if n < math.MinInt16 || n > math.MaxInt16 {
			return udf.TypeMismatch("decode", "result %d overflows int16", n)
		}
		b.Append(int16(n))
	case *array.Int32Builder:
		b.Append(int32(uint32(v)))
	case *array.Date32Builder:
		b.Append(arrow.Date32(int32(uint32(v))))
	case *array.BooleanBuilder:
		b.Append(uint32(v) != 0)
	case *array.Int64Builder:
		b.Append(int64(v))
	case *array.Date64Builder:
		b.Append(arrow.Date64(int64(v)))
	case *array.Float32Builder:
		b.Append(api.DecodeF32(v))
	case *array.Float64Builder:
		b.Append(api.DecodeF64(v))
	default:
		return udf.TypeMismatch("decode", "builder of type %s, want %s", bldr.Type(), c.dt)
	}
	return nil
}

type stringCodec struct{}

func (stringCodec) DataType() arrow.DataType { return arrow.BinaryTypes.String }

func (stringCodec) ValueType() api.ValueType { return api.ValueTypeI64 }

func (stringCodec) Encode(ctx context.Context, b *Bridge, arr arrow.Array, row int) (uint64, error) {
	a, ok := arr.(*array.String)
	if !ok {
		return 0, udf.TypeMismatch("encode", "column of type %s, want utf8", arr.DataType())
	}
	s := a.Value(row)
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return 0, udf.TypeMismatch("encode", "string at row %d contains a NUL byte", row)
	}

	data := make([]byte, len(s)+1)
	copy(data, s)
	p, err := b.WriteBytes(ctx, data)
	if err != nil {
		return 0, err
	}
	return uint64(p), nil
}

func (stringCodec) Append(b *Bridge, bldr array.Builder, v uint64) error {
	sb, ok := bldr.(*array.StringBuilder)
	if !ok {
		return udf.TypeMismatch("decode", "builder of type %s, want utf8", bldr.Type())
	}

	p := Pointer(v)
	if p.IsEmpty() {
		return udf.EmptyResult("decode")
	}
	data, err := b.Read(p)
	if err != nil {
		return err
	}
	data = bytes.TrimSuffix(data, []byte{0})
	if !utf8.Valid(data) {
		return udf.Deserialization("decode", nil, "result at %s is not valid UTF-8", p)
	}
	sb.Append(string(data))
	return nil
}
