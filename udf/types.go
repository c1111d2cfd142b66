package udf

import (
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
)

// Type names accepted in Spec.InputTypes and Spec.OutputTypes.
const (
	TypeInt8    = "int8"
	TypeInt16   = "int16"
	TypeInt32   = "int32"
	TypeInt64   = "int64"
	TypeFloat32 = "float32"
	TypeFloat64 = "float64"
	TypeString  = "string"
	TypeDate32  = "date32"
	TypeDate64  = "date64"
	TypeBoolean = "boolean"
)

var arrowTypes = map[string]arrow.DataType{
	TypeInt8:    arrow.PrimitiveTypes.Int8,
	TypeInt16:   arrow.PrimitiveTypes.Int16,
	TypeInt32:   arrow.PrimitiveTypes.Int32,
	TypeInt64:   arrow.PrimitiveTypes.Int64,
	TypeFloat32: arrow.PrimitiveTypes.Float32,
	TypeFloat64: arrow.PrimitiveTypes.Float64,
	TypeString:  arrow.BinaryTypes.String,
	TypeDate32:  arrow.FixedWidthTypes.Date32,
	TypeDate64:  arrow.FixedWidthTypes.Date64,
	TypeBoolean: arrow.FixedWidthTypes.Boolean,
}

// ArrowType maps a UDF type name to its canonical Arrow data type.
func ArrowType(name string) (arrow.DataType, error) {
	dt, ok := arrowTypes[name]
	if !ok {
		return nil, UnsupportedType(name)
	}
	return dt, nil
}

// TypeNames returns the supported type names in sorted order.
func TypeNames() []string {
	names := make([]string, 0, len(arrowTypes))
	for name := range arrowTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
