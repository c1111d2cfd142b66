package udf

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
)

// Spec declares a scalar UDF backed by a guest export.
type Spec struct {
	// ExportName is the name the query engine knows the function by. It also
	// names the output column.
	ExportName string `json:"export_name"`

	// InternalName is the guest export invoked on every call.
	InternalName string `json:"internal_name"`

	// InputTypes lists one type name per input column, in column order.
	InputTypes []string `json:"input_types"`

	// OutputTypes must be non-empty. Only the first element is used.
	OutputTypes []string `json:"output_types"`

	// Arrow selects batched Arrow IPC marshalling instead of one guest call
	// per row.
	Arrow bool `json:"arrow"`
}

// Validate checks the structural requirements of the spec. Type names are
// checked by Resolve.
func (s Spec) Validate() error {
	if s.InternalName == "" {
		return InvalidSpec("internal_name is required")
	}
	if len(s.OutputTypes) == 0 {
		return InvalidSpec("udf %q declares no output type", s.InternalName)
	}
	return nil
}

// Clone returns a copy that shares no slices with s.
func (s Spec) Clone() Spec {
	s.InputTypes = slices.Clone(s.InputTypes)
	s.OutputTypes = slices.Clone(s.OutputTypes)
	return s
}

// OutputType returns the declared output type name.
func (s Spec) OutputType() string {
	if len(s.OutputTypes) == 0 {
		return ""
	}
	return s.OutputTypes[0]
}

// Name returns ExportName, falling back to InternalName.
func (s Spec) Name() string {
	if s.ExportName != "" {
		return s.ExportName
	}
	return s.InternalName
}

// Resolve maps every declared type name to its Arrow type.
func (s Spec) Resolve() (inputs []arrow.DataType, output arrow.DataType, err error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	inputs = make([]arrow.DataType, len(s.InputTypes))
	for i, name := range s.InputTypes {
		if inputs[i], err = ArrowType(name); err != nil {
			return nil, nil, err
		}
	}

	output, err = ArrowType(s.OutputType())
	if err != nil {
		return nil, nil, err
	}
	return inputs, output, nil
}

// Strategy names the marshalling strategy selected by the Arrow flag.
func (s Spec) Strategy() string {
	if s.Arrow {
		return "batch_ipc"
	}
	return "row_wise"
}

// ParseSpec decodes a JSON spec.
func ParseSpec(data []byte) (Spec, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return Spec{}, InvalidSpec("decode spec: %v", err)
	}
	return s, s.Validate()
}

// LoadSpec reads a JSON spec from path.
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read spec: %w", err)
	}
	return ParseSpec(data)
}
