package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/caffeineduck/wasmudf/executor"
	"github.com/caffeineduck/wasmudf/runner"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "wasmudf",
	Short: "Evaluate WebAssembly scalar UDFs over Arrow data",
	Long: `wasmudf - Run scalar user-defined functions compiled to WebAssembly.

A UDF is a guest export plus a declaration of its input and output types.
Rows are marshalled one call at a time, or whole columns are exchanged as
Arrow IPC streams when --arrow is set. Every evaluation runs in a fresh
sandbox with no access to the host.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
	rootCmd.PersistentFlags().String("memory", "", "Guest memory limit: 1mb, 16mb, 64mb, 256mb, 1gb (default: 256mb)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log sandbox lifecycle to stderr")
}

type stringSliceValue []string

func (s *stringSliceValue) String() string { return strings.Join(*s, ",") }
func (s *stringSliceValue) Set(v string) error {
	*s = append(*s, strings.Split(v, ",")...)
	return nil
}
func (s *stringSliceValue) Type() string { return "types" }

// addUDFFlags registers the flags that describe which module and export to
// evaluate.
func addUDFFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("module", "m", "", "Path to the guest .wasm module (required)")
	cmd.Flags().String("spec", "", "Path to a JSON UDF declaration")
	cmd.Flags().String("export", "", "Name the UDF is known by (default: --internal)")
	cmd.Flags().String("internal", "", "Guest export to call")
	types := strings.Join(udf.TypeNames(), ", ")
	cmd.Flags().Var(&stringSliceValue{}, "input", "Input type, repeatable or comma separated: "+types)
	cmd.Flags().String("output", "", "Output type: "+types)
	cmd.Flags().Bool("arrow", false, "Exchange whole columns as Arrow IPC streams")
	cmd.MarkFlagRequired("module")
}

// specFromFlags reads --spec when given, then lets the individual flags
// override its fields.
func specFromFlags(cmd *cobra.Command) (udf.Spec, error) {
	var spec udf.Spec
	if path, _ := cmd.Flags().GetString("spec"); path != "" {
		s, err := udf.LoadSpec(path)
		if err != nil {
			return udf.Spec{}, err
		}
		spec = s
	}

	flags := cmd.Flags()
	if flags.Changed("export") {
		spec.ExportName, _ = flags.GetString("export")
	}
	if flags.Changed("internal") {
		spec.InternalName, _ = flags.GetString("internal")
	}
	if flags.Changed("input") {
		spec.InputTypes = *flags.Lookup("input").Value.(*stringSliceValue)
	}
	if flags.Changed("output") {
		out, _ := flags.GetString("output")
		spec.OutputTypes = []string{out}
	}
	if flags.Changed("arrow") {
		spec.Arrow, _ = flags.GetBool("arrow")
	}
	return spec, nil
}

func parseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB, nil
	case "16mb":
		return executor.MemoryLimit16MB, nil
	case "64mb":
		return executor.MemoryLimit64MB, nil
	case "", "256mb":
		return executor.MemoryLimit256MB, nil
	case "1gb":
		return executor.MemoryLimit1GB, nil
	default:
		return 0, fmt.Errorf("invalid memory limit %q (use 1mb, 16mb, 64mb, 256mb, or 1gb)", s)
	}
}

// engineOptions translates the persistent flags. The guest never reads the
// CLI's stdin and its stdout is discarded so it cannot corrupt results.
func engineOptions(cmd *cobra.Command) ([]executor.EngineOption, error) {
	mem, _ := cmd.Flags().GetString("memory")
	pages, err := parseMemoryLimit(mem)
	if err != nil {
		return nil, err
	}

	opts := []executor.EngineOption{
		executor.WithMemoryLimit(pages),
		executor.WithArgs("wasmudf"),
		executor.WithStdin(nil),
		executor.WithStdout(nil),
		executor.WithStderr(cmd.ErrOrStderr()),
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); !noCache {
		opts = append(opts, executor.WithDiskCache())
	}
	return opts, nil
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			return l
		}
	}
	return zap.NewNop()
}

// loadRunner compiles --module and builds the runner declared by the UDF
// flags.
func loadRunner(ctx context.Context, cmd *cobra.Command, log *zap.Logger, extra ...runner.Option) (udf.Runner, error) {
	spec, err := specFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	path, _ := cmd.Flags().GetString("module")
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}

	engineOpts, err := engineOptions(cmd)
	if err != nil {
		return nil, err
	}

	opts := append([]runner.Option{
		runner.WithEngineOptions(engineOpts...),
		runner.WithLogger(log),
		runner.WithValidateExports(),
	}, extra...)
	return runner.Load(ctx, spec, wasm, opts...)
}
