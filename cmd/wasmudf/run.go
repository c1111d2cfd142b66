package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a UDF over a batch of rows",
	Long: `Evaluate a UDF over every record of an input stream.

Input is an Arrow IPC stream or CSV file, read from --input-file or stdin:
  wasmudf run -m udf.wasm --internal add --input int32,int32 --output int32 < rows.arrows
  wasmudf run -m udf.wasm --spec concat.json --input-file rows.csv --format csv

CSV columns are matched to the declared input types by position; the
literal "null" is read as a null cell.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	addUDFFlags(runCmd)
	runCmd.Flags().StringP("input-file", "i", "", "Input file (default: stdin)")
	runCmd.Flags().String("input-format", "", "Input format: arrow, csv (default: by extension, else arrow)")
	runCmd.Flags().StringP("format", "f", "table", "Output format: table, arrow, csv")
	runCmd.Flags().Bool("header", true, "CSV input starts with a header row")
	runCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for each record")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(cmd)
	defer log.Sync()

	r, err := loadRunner(ctx, cmd, log)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	inputs, output, err := r.Spec().Resolve()
	if err != nil {
		return err
	}

	in, name, err := openInput(cmd)
	if err != nil {
		return err
	}
	defer in.Close()

	inFormat, _ := cmd.Flags().GetString("input-format")
	if inFormat == "" {
		inFormat = "arrow"
		if strings.EqualFold(filepath.Ext(name), ".csv") {
			inFormat = "csv"
		}
	}
	header, _ := cmd.Flags().GetBool("header")
	src, err := newRecordReader(in, inFormat, inputs, header)
	if err != nil {
		return err
	}
	defer src.Release()

	format, _ := cmd.Flags().GetString("format")
	schema := outputSchema(r.Spec(), output)
	dst, err := newRecordWriter(cmd.OutOrStdout(), format, schema)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	for src.Next() {
		if err := runRecord(ctx, r, src.Record(), dst, timeout); err != nil {
			dst.Close()
			return err
		}
	}
	if err := src.Err(); err != nil && err != io.EOF {
		dst.Close()
		return fmt.Errorf("read input: %w", err)
	}
	return dst.Close()
}

func runRecord(ctx context.Context, r udf.Runner, rec arrow.Record, dst recordWriter, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := r.Run(ctx, rec)
	if err != nil {
		return err
	}
	defer out.Release()
	return dst.Write(out)
}

func openInput(cmd *cobra.Command) (io.ReadCloser, string, error) {
	path, _ := cmd.Flags().GetString("input-file")
	if path == "" || path == "-" {
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return nil, "", errors.New("no input: pipe an Arrow stream or CSV into stdin, or pass --input-file")
		}
		return io.NopCloser(in), "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open input: %w", err)
	}
	return f, path, nil
}

func outputSchema(spec udf.Spec, output arrow.DataType) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: spec.Name(), Type: output, Nullable: true}}, nil)
}

// inputSchema names CSV columns by position; only their order and types
// matter to the runner.
func inputSchema(inputs []arrow.DataType) *arrow.Schema {
	fields := make([]arrow.Field, len(inputs))
	for i, dt := range inputs {
		fields[i] = arrow.Field{Name: fmt.Sprintf("c%d", i), Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

type recordReader interface {
	Next() bool
	Record() arrow.Record
	Err() error
	Release()
}

func newRecordReader(r io.Reader, format string, inputs []arrow.DataType, header bool) (recordReader, error) {
	switch format {
	case "arrow":
		rdr, err := ipc.NewReader(r)
		if err != nil {
			return nil, udf.Deserialization("input", err, "invalid arrow stream")
		}
		return rdr, nil
	case "csv":
		return csv.NewReader(r, inputSchema(inputs),
			csv.WithHeader(header),
			csv.WithChunk(1024),
			csv.WithNullReader(true, "null"),
		), nil
	default:
		return nil, fmt.Errorf("invalid input format %q (use arrow or csv)", format)
	}
}

type recordWriter interface {
	Write(arrow.Record) error
	Close() error
}

func newRecordWriter(w io.Writer, format string, schema *arrow.Schema) (recordWriter, error) {
	switch format {
	case "table":
		return newTableWriter(w, schema), nil
	case "arrow":
		return ipc.NewWriter(w, ipc.WithSchema(schema)), nil
	case "csv":
		return &csvWriter{csv.NewWriter(w, schema, csv.WithHeader(true), csv.WithNullWriter("null"))}, nil
	default:
		return nil, fmt.Errorf("invalid format %q (use table, arrow, or csv)", format)
	}
}

type csvWriter struct {
	*csv.Writer
}

func (w *csvWriter) Close() error {
	return w.Flush()
}

type tableWriter struct {
	tw  *tabwriter.Writer
	row int
}

func newTableWriter(w io.Writer, schema *arrow.Schema) *tableWriter {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\t%s\n", schema.Field(0).Name)
	return &tableWriter{tw: tw}
}

func (t *tableWriter) Write(rec arrow.Record) error {
	col := rec.Column(0)
	for i := 0; i < col.Len(); i++ {
		fmt.Fprintf(t.tw, "%d\t%s\n", t.row, formatValue(col, i))
		t.row++
	}
	return nil
}

func (t *tableWriter) Close() error {
	return t.tw.Flush()
}

func formatValue(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return "null"
	}
	if s, ok := arr.(*array.String); ok {
		return s.Value(i)
	}
	return arr.ValueStr(i)
}
