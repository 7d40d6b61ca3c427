// Package main processes one legacy data file synchronously and prints the
// ingestion response as JSON.
//
//	ingest --source LISTAHANAN --file households.csv --type HOUSEHOLD
//
// Import Path: dsr.gov.ph/registry/cmd/ingest
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/app"
	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// errIngestFailed makes the process exit non-zero after the response has
// been printed.
var errIngestFailed = errors.New("ingestion failed")

type options struct {
	source      string
	file        string
	dataType    string
	submittedBy string
	inMemory    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		if !errors.Is(err, errIngestFailed) {
			fmt.Fprintf(os.Stderr, "ingest error: %v\n", err)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	fs.StringVarP(&o.source, "source", "s", "", "source system (LISTAHANAN, I_REGISTRO, ...)")
	fs.StringVarP(&o.file, "file", "f", "", "path of the legacy data file")
	fs.StringVarP(&o.dataType, "type", "t", string(domain.DataTypeHousehold), "data type (HOUSEHOLD, INDIVIDUAL, ECONOMIC_PROFILE)")
	fs.StringVar(&o.submittedBy, "submitted-by", domain.SubmittedBySystem, "recorded as the batch submitter")
	fs.BoolVar(&o.inMemory, "in-memory", false, "use process-local stores instead of PostgreSQL")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.source == "" || o.file == "" {
		return o, fmt.Errorf("--source and --file are required")
	}
	return o, nil
}

func (o options) request() ingestion.FileRequest {
	return ingestion.FileRequest{
		SourceSystem: o.source,
		FilePath:     o.file,
		DataType:     domain.ParseDataType(o.dataType),
		SubmittedBy:  o.submittedBy,
	}
}

func run(opts options, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.inMemory {
		cfg.Database.InMemory = true
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	logger.Info("Processing legacy file",
		zap.String("source_system", opts.source),
		zap.String("file", opts.file),
	)
	return ingestFile(ctx, application.Ingestion, opts.request(), out)
}

// ingestFile runs the file and writes the response. A FAILED response is
// reported as errIngestFailed.
func ingestFile(ctx context.Context, svc ingestion.Service, req ingestion.FileRequest, out io.Writer) error {
	resp := svc.ProcessLegacyDataFile(ctx, req)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if resp.Status == domain.StatusFailed {
		return errIngestFailed
	}
	return nil
}
