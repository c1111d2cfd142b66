package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/caffeineduck/wasmudf/runner"
	"github.com/caffeineduck/wasmudf/udf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const arrowStreamType = "application/vnd.apache.arrow.stream"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for UDF evaluation",
	Long: `Start an HTTP server that evaluates one UDF over Arrow IPC streams.

Endpoints:
  POST   /run       Arrow IPC stream in, Arrow IPC stream out
  GET    /spec      UDF declaration as JSON
  GET    /metrics   Prometheus metrics
  GET    /health    Health check

Evaluation errors are answered with 422 and {"error":"...","kind":"..."}.`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	addUDFFlags(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for each request")
	serveCmd.Flags().Int64("max-body", 64<<20, "Max request body size in bytes")
	rootCmd.AddCommand(serveCmd)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type serverConfig struct {
	timeout time.Duration
	maxBody int64
}

// newServer routes requests to r. Records of one request are evaluated in
// order and answered as a single stream.
func newServer(r udf.Runner, reg *prometheus.Registry, log *zap.Logger, cfg serverConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/run", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx := req.Context()
		if cfg.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}

		body := req.Body
		if cfg.maxBody > 0 {
			body = http.MaxBytesReader(w, body, cfg.maxBody)
		}
		rdr, err := ipc.NewReader(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid arrow stream: %w", err))
			return
		}
		defer rdr.Release()

		var buf bytes.Buffer
		var out *ipc.Writer
		rows := 0
		for rdr.Next() {
			res, err := r.Run(ctx, rdr.Record())
			if err != nil {
				log.Warn("request failed", zap.Error(err))
				writeError(w, http.StatusUnprocessableEntity, err)
				return
			}
			if out == nil {
				out = ipc.NewWriter(&buf, ipc.WithSchema(res.Schema()))
			}
			err = out.Write(res)
			rows += int(res.NumRows())
			res.Release()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}
		if err := rdr.Err(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid arrow stream: %w", err))
			return
		}
		if out == nil {
			out = ipc.NewWriter(&buf, ipc.WithSchema(emptySchema(r.Spec())))
		}
		if err := out.Close(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		log.Debug("request served", zap.Int("rows", rows))
		w.Header().Set("Content-Type", arrowStreamType)
		w.Write(buf.Bytes())
	})

	mux.HandleFunc("/spec", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.Spec())
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

func emptySchema(spec udf.Spec) *arrow.Schema {
	_, output, err := spec.Resolve()
	if err != nil {
		return arrow.NewSchema(nil, nil)
	}
	return outputSchema(spec, output)
}

func writeError(w http.ResponseWriter, code int, err error) {
	resp := errorResponse{Error: err.Error(), Kind: string(udf.KindOf(err))}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func runServe(cmd *cobra.Command, args []string) {
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	log := zap.Must(zap.NewProduction())
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		log = newLogger(cmd)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := loadRunner(ctx, cmd, log, runner.WithMetrics(runner.NewMetrics(reg)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newServer(r, reg, log, serverConfig{timeout: timeout, maxBody: maxBody}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("wasmudf server listening",
		zap.String("addr", srv.Addr),
		zap.String("udf", r.Spec().Name()),
		zap.String("strategy", r.Spec().Strategy()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
