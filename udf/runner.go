// Package udf defines the contract between a columnar query engine and a
// WebAssembly-backed scalar function: the declarative [Spec], the supported
// type names, the [Runner] interface and the [Error] taxonomy.
//
// Implementations live in the runner package:
//
//	r, err := runner.Load(ctx, udf.Spec{
//	    ExportName:   "add",
//	    InternalName: "add",
//	    InputTypes:   []string{"int32", "int32"},
//	    OutputTypes:  []string{"int32"},
//	}, wasm)
//	if err != nil {
//	    return err
//	}
//	defer r.Close(ctx)
//
//	out, err := r.Run(ctx, batch)
package udf

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Runner evaluates a UDF over record batches.
//
// Every Run opens its own sandbox, so a Runner is safe for concurrent use.
// Run returns either a complete single-column record of the declared output
// type or an *Error; never partial output. The caller owns the returned
// record and must Release it.
type Runner interface {
	Run(ctx context.Context, rec arrow.Record) (arrow.Record, error)

	// Spec returns the spec the runner was loaded from.
	Spec() Spec

	// Close releases the compiled module. Run must not be called afterwards.
	Close(ctx context.Context) error
}
