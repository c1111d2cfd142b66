package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL that evaluates one row per line",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) for a single UDF.

Each line is one row of comma separated values, in input order. Quote a
value to keep commas or spaces; the bare word null is a null cell.

  >>> 6, 8
  14
  >>> "hello, ", world
  hello, world

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)

Type '.spec' to show the declaration, 'exit' or 'quit' to end the session,
or press Ctrl+D.`,
	Args: cobra.NoArgs,
	Run:  runRepl,
}

func init() {
	addUDFFlags(replCmd)
	replCmd.Flags().String("history", "", "History file path (default: ~/.wasmudf_history)")
	replCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for each row")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	historyFile, _ := cmd.Flags().GetString("history")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".wasmudf_history")
	}

	log := newLogger(cmd)
	defer log.Sync()

	ctx := context.Background()
	r, err := loadRunner(ctx, cmd, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close(ctx)

	inputs, _, err := r.Spec().Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	spec := r.Spec()
	fmt.Fprintf(os.Stderr, "wasmudf %s(%s) -> %s [%s] (type 'exit' to quit, Ctrl+D to exit)\n",
		spec.Name(), strings.Join(spec.InputTypes, ", "), spec.OutputType(), spec.Strategy())

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return
		case ".spec":
			fmt.Println(describeSpec(spec))
			continue
		}

		rowCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := evalLine(rowCtx, r, inputs, line)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(out)
	}
}

func describeSpec(spec udf.Spec) string {
	return fmt.Sprintf("export=%s internal=%s inputs=[%s] output=%s strategy=%s",
		spec.Name(), spec.InternalName, strings.Join(spec.InputTypes, ", "),
		spec.OutputType(), spec.Strategy())
}

// evalLine evaluates the UDF over the single row written on line.
func evalLine(ctx context.Context, r udf.Runner, inputs []arrow.DataType, line string) (string, error) {
	rec, err := parseRow(memory.DefaultAllocator, inputs, line)
	if err != nil {
		return "", err
	}
	defer rec.Release()

	out, err := r.Run(ctx, rec)
	if err != nil {
		return "", err
	}
	defer out.Release()
	return formatValue(out.Column(0), 0), nil
}

// parseRow builds a one-row record. A UDF without inputs is called once for
// any line.
func parseRow(mem memory.Allocator, inputs []arrow.DataType, line string) (arrow.Record, error) {
	schema := inputSchema(inputs)
	if len(inputs) == 0 {
		return array.NewRecord(schema, nil, 1), nil
	}

	rd := csv.NewReader(strings.NewReader(line))
	rd.TrimLeadingSpace = true
	cells, err := rd.Read()
	if err != nil {
		return nil, fmt.Errorf("parse row: %w", err)
	}
	if len(cells) != len(inputs) {
		return nil, fmt.Errorf("got %d values, want %d", len(cells), len(inputs))
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i, cell := range cells {
		fb := b.Field(i)
		if cell == "null" {
			fb.AppendNull()
			continue
		}
		if err := fb.AppendValueFromString(cell); err != nil {
			return nil, fmt.Errorf("value %d: %q is not a valid %s", i+1, cell, inputs[i])
		}
	}
	return b.NewRecord(), nil
}
