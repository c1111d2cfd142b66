package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/caffeineduck/wasmudf/abi"
	"github.com/caffeineduck/wasmudf/executor"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <module.wasm>",
	Short: "List a module's exports and check its allocator contract",
	Long: `Compile a guest module without running it and print its function
exports with their signatures, its memories and its host imports.

Modules that exchange strings or Arrow IPC streams must export linear
memory plus an allocator pair; the report says whether they do.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().String("alloc", abi.DefaultAllocExport, "Allocator export")
	inspectCmd.Flags().String("free", abi.DefaultFreeExport, "Deallocator export")
	inspectCmd.Flags().String("memory-export", abi.DefaultMemoryExport, "Linear memory export")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	wasm, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	opts, err := engineOptions(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd)
	defer log.Sync()

	eng, err := executor.NewEngine(ctx, append(opts, executor.WithLogger(log))...)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	mod, err := eng.Compile(ctx, wasm)
	if err != nil {
		return udf.ModuleCompilation(err)
	}
	defer mod.Close(ctx)

	exports := abi.Exports{}
	exports.Alloc, _ = cmd.Flags().GetString("alloc")
	exports.Free, _ = cmd.Flags().GetString("free")
	exports.Memory, _ = cmd.Flags().GetString("memory-export")

	return inspectModule(cmd.OutOrStdout(), mod, exports)
}

func inspectModule(w io.Writer, mod *executor.Module, exports abi.Exports) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "module\t%s\n\n", mod.Digest()[:12])

	funcs := mod.ExportedFunctions()
	fmt.Fprintln(tw, "EXPORT\tSIGNATURE")
	for _, name := range slices.Sorted(maps.Keys(funcs)) {
		def := funcs[name]
		fmt.Fprintf(tw, "%s\t%s\n", name, abi.Signature(def.ParamTypes(), def.ResultTypes()))
	}

	mems := mod.ExportedMemories()
	if len(mems) > 0 {
		fmt.Fprintln(tw, "\nMEMORY\tPAGES")
		for _, name := range slices.Sorted(maps.Keys(mems)) {
			def := mems[name]
			limit := "unbounded"
			if n, ok := def.Max(); ok {
				limit = fmt.Sprint(n)
			}
			fmt.Fprintf(tw, "%s\t%d..%s\n", name, def.Min(), limit)
		}
	}

	if imports := mod.ImportedFunctions(); len(imports) > 0 {
		fmt.Fprintln(tw, "\nIMPORT\tSIGNATURE")
		for _, def := range imports {
			module, name, _ := def.Import()
			fmt.Fprintf(tw, "%s.%s\t%s\n", module, name, abi.Signature(def.ParamTypes(), def.ResultTypes()))
		}
	}

	fmt.Fprintln(tw)
	if err := abi.CheckAllocator(funcs, mems, exports); err != nil {
		fmt.Fprintf(tw, "allocator\t%v\n", err)
	} else {
		fmt.Fprintf(tw, "allocator\tok (%s, %s, %s)\n", exports.Memory, exports.Alloc, exports.Free)
	}
	return tw.Flush()
}
