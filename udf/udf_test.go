package udf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"
)

func TestArrowType(t *testing.T) {
	tests := []struct {
		name string
		want arrow.DataType
	}{
		{"int8", arrow.PrimitiveTypes.Int8},
		{"int16", arrow.PrimitiveTypes.Int16},
		{"int32", arrow.PrimitiveTypes.Int32},
		{"int64", arrow.PrimitiveTypes.Int64},
		{"float32", arrow.PrimitiveTypes.Float32},
		{"float64", arrow.PrimitiveTypes.Float64},
		{"string", arrow.BinaryTypes.String},
		{"date32", arrow.FixedWidthTypes.Date32},
		{"date64", arrow.FixedWidthTypes.Date64},
		{"boolean", arrow.FixedWidthTypes.Boolean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArrowType(tt.name)
			require.NoError(t, err)
			require.True(t, arrow.TypeEqual(tt.want, got), "got %s", got)
		})
	}
}

func TestArrowTypeUnknown(t *testing.T) {
	for _, name := range []string{"uuid", "", "INT32", "utf8"} {
		_, err := ArrowType(name)
		require.ErrorIs(t, err, ErrUnsupportedType, "type %q", name)
	}
}

func TestTypeNamesSorted(t *testing.T) {
	names := TypeNames()
	require.Len(t, names, 10)
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	require.ErrorIs(t, Spec{OutputTypes: []string{"int32"}}.Validate(), ErrInvalidSpec)
	require.ErrorIs(t, Spec{InternalName: "f"}.Validate(), ErrInvalidSpec)
	require.NoError(t, Spec{InternalName: "f", OutputTypes: []string{"int32"}}.Validate())
}

func TestSpecResolve(t *testing.T) {
	s := Spec{
		ExportName:   "concat",
		InternalName: "concat",
		InputTypes:   []string{"string", "string"},
		OutputTypes:  []string{"string", "int32"},
	}
	inputs, output, err := s.Resolve()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	require.Equal(t, arrow.STRING, output.ID())

	s.InputTypes = []string{"string", "uuid"}
	_, _, err = s.Resolve()
	require.ErrorIs(t, err, ErrUnsupportedType)

	s.InputTypes = nil
	s.OutputTypes = []string{"uuid"}
	_, _, err = s.Resolve()
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSpecNameFallsBackToInternalName(t *testing.T) {
	require.Equal(t, "f_impl", Spec{InternalName: "f_impl"}.Name())
	require.Equal(t, "f", Spec{ExportName: "f", InternalName: "f_impl"}.Name())
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.json")
	data := `{
		"export_name": "add",
		"internal_name": "add_arrow",
		"input_types": ["int32", "int32"],
		"output_types": ["int32"],
		"arrow": true
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	s, err := LoadSpec(path)
	require.NoError(t, err)
	require.Equal(t, Spec{
		ExportName:   "add",
		InternalName: "add_arrow",
		InputTypes:   []string{"int32", "int32"},
		OutputTypes:  []string{"int32"},
		Arrow:        true,
	}, s)
	require.Equal(t, "batch_ipc", s.Strategy())
}

func TestParseSpecRejectsMalformedJSON(t *testing.T) {
	_, err := ParseSpec([]byte(`{"internal_name":`))
	require.ErrorIs(t, err, ErrInvalidSpec)

	_, err = ParseSpec([]byte(`{"internal_name":"f"}`))
	require.ErrorIs(t, err, ErrInvalidSpec)
}

func TestErrorMatchesByKind(t *testing.T) {
	cause := errors.New("unreachable executed")
	err := fmt.Errorf("run: %w", GuestTrap("add", cause))

	require.ErrorIs(t, err, ErrGuestTrap)
	require.NotErrorIs(t, err, ErrTypeMismatch)
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindGuestTrap, KindOf(err))
	require.Equal(t, Kind(""), KindOf(cause))

	msg := err.Error()
	if !strings.Contains(msg, "[guest_trap] add") || !strings.Contains(msg, "unreachable executed") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, `[unsupported_type] uuid: unsupported udf type "uuid"`, UnsupportedType("uuid").Error())
	require.Equal(t, `[empty_result] concat: no valid answer received from function`, EmptyResult("concat").Error())
	require.Equal(t, `[export_not_found] memory: guest module does not export memory "memory"`,
		ExportNotFound("memory", "memory").Error())
}
