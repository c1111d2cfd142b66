package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/caffeineduck/wasmudf/executor"
	"github.com/caffeineduck/wasmudf/internal/wasmtest"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

var sharedEngine *executor.Engine

func TestMain(m *testing.M) {
	var err error
	sharedEngine, err = wasmtest.Engine()
	if err != nil {
		panic("failed to create shared engine: " + err.Error())
	}
	code := m.Run()
	wasmtest.CloseEngine()
	os.Exit(code)
}

func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetFlags undoes the previous invocation; cobra keeps flag values on the
// package-level commands between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if s, ok := f.Value.(*stringSliceValue); ok {
			*s = nil
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	require.NoError(t, err)

	for _, phrase := range []string{"run", "serve", "repl", "inspect", "--no-cache", "--memory", "--verbose"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "run", "--help")
	require.NoError(t, err)

	for _, phrase := range []string{"--module", "--spec", "--internal", "--input", "--output", "--arrow", "--format", "--input-file", "date64"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "serve", "--help")
	require.NoError(t, err)

	for _, phrase := range []string{"--port", "--timeout", "/run", "/metrics", "/health"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

func TestCLIReplHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "repl", "--help")
	require.NoError(t, err)

	for _, phrase := range []string{"--history", "null", "Command history", ".spec"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("repl help output should contain %q", phrase)
		}
	}
}

func TestCLIRunCSVToTable(t *testing.T) {
	wasm := writeFile(t, "guest.wasm", wasmtest.ScalarGuest())
	rows := writeFile(t, "rows.csv", []byte("a,b\n6,8\n1,null\n"))

	output, err := executeCommand(rootCmd, "run", "--no-cache",
		"-m", wasm, "--internal", "add", "--input", "int32,int32", "--output", "int32",
		"-i", rows)
	require.NoError(t, err)
	require.Contains(t, output, "#  add\n")
	require.Contains(t, output, "0  14\n")
	require.Contains(t, output, "1  null\n")
}

func TestCLIRunCSVToCSV(t *testing.T) {
	wasm := writeFile(t, "guest.wasm", wasmtest.ScalarGuest())
	rows := writeFile(t, "rows.csv", []byte("a,b\n6,8\n-1,1\n"))

	output, err := executeCommand(rootCmd, "run", "--no-cache",
		"-m", wasm, "--export", "plus", "--internal", "add", "--input", "int32", "--input", "int32", "--output", "int32",
		"-i", rows, "--format", "csv")
	require.NoError(t, err)
	require.Equal(t, "plus\n14\n0\n", output)
}

func TestCLIRunSpecFile(t *testing.T) {
	wasm := writeFile(t, "guest.wasm", wasmtest.ScalarGuest())
	spec := writeFile(t, "not.json", []byte(`{"internal_name":"not","input_types":["boolean"],"output_types":["boolean"]}`))
	rows := writeFile(t, "rows.csv", []byte("x\ntrue\nfalse\n"))

	output, err := executeCommand(rootCmd, "run", "--no-cache", "-m", wasm, "--spec", spec, "-i", rows, "-f", "csv")
	require.NoError(t, err)
	require.Equal(t, "not\nfalse\ntrue\n", output)
}

func TestCLIRunArrowStream(t *testing.T) {
	wasm := writeFile(t, "guest.wasm", wasmtest.ScalarGuest())

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.BinaryTypes.String},
		{Name: "b", Type: arrow.BinaryTypes.String},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).AppendValues([]string{"hello, ", "wasm"}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"world", "udf"}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	var in bytes.Buffer
	w := ipc.NewWriter(&in, ipc.WithSchema(schema))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	rows := writeFile(t, "rows.arrows", in.Bytes())

	output, err := executeCommand(rootCmd, "run", "--no-cache",
		"-m", wasm, "--internal", "concat", "--input", "string,string", "--output", "string",
		"-i", rows, "--format", "arrow")
	require.NoError(t, err)

	rdr, err := ipc.NewReader(strings.NewReader(output))
	require.NoError(t, err)
	defer rdr.Release()
	require.True(t, rdr.Next())
	col := rdr.Record().Column(0).(*array.String)
	require.Equal(t, "hello, world", col.Value(0))
	require.Equal(t, "wasmudf", col.Value(1))
	require.Equal(t, "concat", rdr.Schema().Field(0).Name)
}

func TestCLIRunErrors(t *testing.T) {
	wasm := writeFile(t, "guest.wasm", wasmtest.ScalarGuest())
	rows := writeFile(t, "rows.csv", []byte("a\n1\n"))

	_, err := executeCommand(rootCmd, "run", "--no-cache",
		"-m", wasm, "--internal", "add", "--input", "decimal", "--output", "int32", "-i", rows)
	require.ErrorIs(t, err, udf.ErrUnsupportedType)

	_, err = executeCommand(rootCmd, "run", "--no-cache",
		"-m", wasm, "--internal", "missing", "--input", "int32", "--output", "int32", "-i", rows)
	require.ErrorIs(t, err, udf.ErrExportNotFound)

	_, err = executeCommand(rootCmd, "run", "--no-cache",
		"-m", wasm, "--internal", "add", "--input", "int32,int32", "--output", "int32", "-i", rows, "--format", "xml")
	require.ErrorContains(t, err, "invalid format")

	_, err = executeCommand(rootCmd, "run", "--no-cache", "--memory", "2mb",
		"-m", wasm, "--internal", "add", "--input", "int32,int32", "--output", "int32", "-i", rows)
	require.ErrorContains(t, err, "invalid memory limit")
}

func TestCLIInspect(t *testing.T) {
	wasm := writeFile(t, "guest.wasm", wasmtest.ScalarGuest())

	output, err := executeCommand(rootCmd, "inspect", "--no-cache", wasm)
	require.NoError(t, err)
	require.Contains(t, output, "concat")
	require.Contains(t, output, "(i64, i64) -> (i64)")
	require.Contains(t, output, "(i32, i32) -> (i32)")
	require.Contains(t, output, "ok (memory, wasm_alloc, wasm_free)")
}

func TestCLIInspectReportsMissingAllocator(t *testing.T) {
	wasm := writeFile(t, "bare.wasm", wasmtest.NoAllocGuest())

	output, err := executeCommand(rootCmd, "inspect", "--no-cache", wasm)
	require.NoError(t, err)
	require.Contains(t, output, "[export_not_found]")
}

func TestCLIInspectArrowImports(t *testing.T) {
	wasm := writeFile(t, "arrow.wasm", wasmtest.ArrowGuest())

	output, err := executeCommand(rootCmd, "inspect", "--no-cache", wasm)
	require.NoError(t, err)
	require.Contains(t, output, "env.add_arrow")
}

func TestCLIInspectSortsMemories(t *testing.T) {
	wasm := writeFile(t, "mems.wasm", wasmtest.AliasedMemoryGuest("zeta", "memory", "alpha", "heap"))

	var first string
	for i := range 5 {
		output, err := executeCommand(rootCmd, "inspect", "--no-cache", wasm)
		require.NoError(t, err)

		var mems []string
		for _, line := range strings.Split(output, "\n") {
			if fields := strings.Fields(line); len(fields) == 2 && strings.HasPrefix(fields[1], "1..") {
				mems = append(mems, fields[0])
			}
		}
		require.Equal(t, []string{"alpha", "heap", "memory", "zeta"}, mems)

		if i == 0 {
			first = output
		}
		require.Equal(t, first, output)
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"1mb", executor.MemoryLimit1MB},
		{"16MB", executor.MemoryLimit16MB},
		{"", executor.MemoryLimit256MB},
		{"1gb", executor.MemoryLimit1GB},
	}
	for _, tc := range tests {
		got, err := parseMemoryLimit(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseMemoryLimit("lots")
	require.Error(t, err)
}
