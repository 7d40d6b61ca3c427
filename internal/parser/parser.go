// Package parser turns legacy source-system files (CSV, JSON, XML, XLSX)
// into a lazy stream of ingestion requests.
//
// Each source system has its own allowed formats and header mappings. Rows
// that cannot be read are reported as RowError values and iteration moves on;
// any other error ends the stream.
//
// Import Path: dsr.gov.ph/registry/internal/parser
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
)

// Parser reads legacy files.
type Parser interface {
	ValidateFileFormat(source, path string) bool
	FileMetadata(path string) (Metadata, error)
	Parse(ctx context.Context, source, path string, dataType domain.DataType) iter.Seq2[Record, error]
}

// Record is one parsed row. Line is the 1-based position of the row in the
// file: the text line for CSV, the sheet row for XLSX, the element ordinal
// for JSON and XML.
type Record struct {
	Line    int
	Request domain.IngestionRequest
}

// RowError reports a row that could not be read. The stream continues.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// IsRowError reports whether err is a per-row failure.
func IsRowError(err error) bool {
	var re *RowError
	return errors.As(err, &re)
}

// rawRow is a row as read from the file, before header mapping.
type rawRow struct {
	line   int
	fields []domain.Field
	err    error
}

// rowFunc receives rows from a format strategy; returning false stops it.
type rowFunc func(rawRow) bool

// Legacy is the production Parser.
type Legacy struct {
	registry    Registry
	mappings    Mappings
	submittedBy string
	now         func() time.Time
}

// Option configures Legacy.
type Option func(*Legacy)

// WithRegistry overrides the source → format table.
func WithRegistry(r Registry) Option {
	return func(p *Legacy) { p.registry = r }
}

// WithMappings overrides the header mappings.
func WithMappings(m Mappings) Option {
	return func(p *Legacy) { p.mappings = m }
}

// WithSubmittedBy sets the provenance stamped on parsed requests.
func WithSubmittedBy(who string) Option {
	return func(p *Legacy) { p.submittedBy = who }
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Legacy) { p.now = now }
}

// New creates a Legacy parser with the embedded mappings.
func New(opts ...Option) *Legacy {
	p := &Legacy{
		registry:    DefaultRegistry(),
		mappings:    DefaultMappings(),
		submittedBy: domain.SubmittedBySystem,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Registry returns the source → format table in use.
func (p *Legacy) Registry() Registry { return p.registry }

// ValidateFileFormat checks the file exists, is non-empty, carries an
// extension the source may upload and starts like that format.
func (p *Legacy) ValidateFileFormat(source, path string) bool {
	info, err := statFile(path)
	if err != nil {
		logger.Warn("Legacy file rejected", zap.String("path", path), zap.Error(err))
		return false
	}
	if info.Size() == 0 {
		logger.Warn("Legacy file is empty", zap.String("path", path))
		return false
	}
	f, ok := FormatOf(path)
	if !ok || !p.registry.Supports(source, f) {
		logger.Warn("Unsupported file format for source system",
			zap.String("source_system", source),
			zap.String("path", path),
			zap.Any("supported", p.registry.Formats(source)),
		)
		return false
	}

	fh, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to open legacy file", zap.String("path", path), zap.Error(err))
		return false
	}
	defer fh.Close()
	if !sniff(f, fh) {
		logger.Warn("Legacy file content does not match its extension",
			zap.String("path", path), zap.String("format", string(f)))
		return false
	}
	return true
}

// FileMetadata reports size, format, encoding and an estimated record count.
// A missing or unreadable file yields Valid=false with ErrorMessage set.
func (p *Legacy) FileMetadata(path string) (Metadata, error) {
	info, err := statFile(path)
	if err != nil {
		md := Metadata{ErrorMessage: err.Error()}
		if errors.Is(err, ErrFileNotFound) {
			md.ErrorMessage = "File not found: " + path
		}
		return md, err
	}

	md := Metadata{FileSizeBytes: info.Size()}
	f, ok := FormatOf(path)
	if !ok {
		md.ErrorMessage = "Unsupported file extension: " + path
		return md, nil
	}
	md.Format = f

	fh, err := os.Open(path)
	if err != nil {
		md.ErrorMessage = err.Error()
		return md, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(fh, sample)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		md.ErrorMessage = err.Error()
		return md, fmt.Errorf("read %s: %w", path, err)
	}
	sample = sample[:n]

	if f == FormatXLSX {
		md.Encoding = EncodingBinary
	} else {
		md.Encoding = detectEncoding(sample)
	}
	md.RecordCountHint = estimateRecords(f, sample, info.Size())
	md.Valid = info.Size() > 0
	return md, nil
}

// Parse streams the rows of path as ingestion requests. The file is opened
// lazily when iteration starts and closed when it ends.
func (p *Legacy) Parse(ctx context.Context, source, path string, dataType domain.DataType) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f, ok := FormatOf(path)
		if !ok {
			yield(Record{}, fmt.Errorf("unsupported file extension: %s", path))
			return
		}

		// open is false once yield has returned false; yield must not be
		// called again after that.
		open := true
		emit := func(row rawRow) bool {
			if err := ctx.Err(); err != nil {
				yield(Record{Line: row.line}, err)
				open = false
				return false
			}
			if row.err != nil {
				metrics.ParseErrors.WithLabelValues(source, string(f)).Inc()
				open = yield(Record{Line: row.line}, &RowError{Line: row.line, Err: row.err})
				return open
			}
			payload := p.mappings.Payload(source, dataType, row.fields)
			if len(payload) == 0 {
				return true
			}
			open = yield(Record{Line: row.line, Request: domain.IngestionRequest{
				SourceSystem:   source,
				DataType:       dataType,
				SubmittedBy:    p.submittedBy,
				SubmissionDate: p.now(),
				DataPayload:    payload,
			}}, nil)
			return open
		}

		var err error
		if f == FormatXLSX {
			err = readXLSX(path, emit)
		} else {
			err = p.readText(f, path, emit)
		}
		if err != nil && open {
			logger.Error("Legacy file parsing failed",
				zap.String("source_system", source),
				zap.String("path", path),
				zap.Error(err),
			)
			yield(Record{}, err)
		}
	}
}

func (p *Legacy) readText(f Format, path string, emit rowFunc) error {
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	r := textReader(fh)
	switch f {
	case FormatCSV:
		return readCSV(r, emit)
	case FormatJSON:
		return readJSON(r, emit)
	case FormatXML:
		return readXML(r, emit)
	}
	return fmt.Errorf("unsupported format %s", f)
}
