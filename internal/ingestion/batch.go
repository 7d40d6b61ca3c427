package ingestion

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/parser"
)

// report collects the line-numbered issues of one batch run. Records finish
// out of order; snapshot sorts by line.
type report struct {
	mu       sync.Mutex
	label    string
	limit    int
	errors   []issue
	warnings []issue
	dropped  int
}

type issue struct {
	line int
	text string
}

func newReport(label string, limit int) *report {
	return &report{label: label, limit: limit}
}

func (r *report) add(dst *[]issue, line int, texts ...string) {
	for _, t := range texts {
		if len(r.errors)+len(r.warnings) >= r.limit {
			r.dropped++
			continue
		}
		*dst = append(*dst, issue{line: line, text: fmt.Sprintf("%s %d: %s", r.label, line, t)})
	}
}

func (r *report) record(line int, out outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(&r.errors, line, out.errors...)
	r.add(&r.warnings, line, out.warnings...)
	if out.kind == outcomeDuplicate {
		r.add(&r.warnings, line, out.message)
	}
}

func (r *report) row(line int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(&r.errors, line, err.Error())
}

func (r *report) snapshot() (errs, warnings []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	render := func(in []issue) []string {
		sorted := slices.Clone(in)
		slices.SortStableFunc(sorted, func(a, b issue) int { return cmp.Compare(a.line, b.line) })
		out := make([]string, 0, len(sorted))
		for _, i := range sorted {
			out = append(out, i.text)
		}
		return out
	}
	errs, warnings = render(r.errors), render(r.warnings)
	if r.dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d further issues not reported", r.dropped))
	}
	return errs, warnings
}

// runRecords fans records out to at most Parallelism workers and applies
// each outcome to the batch counters. Malformed rows count as failed
// records. Any other stream error, or a counter update failure, stops the
// run and is returned.
func (o *Orchestrator) runRecords(ctx context.Context, b *domain.IngestionBatch, records iter.Seq2[parser.Record, error], rep *report) error {
	// Counter writes outlive cancellation so partial progress is kept.
	bctx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	sc := scope{batchID: b.BatchID}

	var streamErr error
	for rec, err := range records {
		if gctx.Err() != nil {
			break
		}
		if err != nil {
			var rowErr *parser.RowError
			if !errors.As(err, &rowErr) {
				streamErr = fmt.Errorf("read records: %w", err)
				break
			}
			rep.row(rowErr.Line, rowErr.Err)
			if err := o.tracker.Count(bctx, b.BatchID, domain.CounterDelta{Failed: 1}); err != nil {
				streamErr = err
				break
			}
			continue
		}

		g.Go(func() error {
			req := rec.Request
			if req.SourceSystem == "" {
				req.SourceSystem = b.SourceSystem
			}
			if req.DataType == "" {
				req.DataType = b.DataType
			}
			out := o.process(gctx, sc, req)
			if out.kind == outcomeFailed && gctx.Err() != nil {
				// Interrupted, not processed: leave it out of the counters.
				return nil
			}
			rep.record(rec.Line, out)
			return o.tracker.Count(bctx, b.BatchID, out.delta())
		})
	}

	werr := g.Wait()
	if streamErr != nil {
		return streamErr
	}
	return werr
}

// finish finalizes a batch after runRecords and renders the response.
// runCtx is the context the records ran under; its cancellation marks the
// batch FAILED with the counters reached so far.
func (o *Orchestrator) finish(runCtx context.Context, b *domain.IngestionBatch, start time.Time, runErr error, failPrefix string, rep *report, log *zap.Logger) *domain.IngestionResponse {
	ctx := context.WithoutCancel(runCtx)
	elapsed := o.now().Sub(start)

	var (
		done *domain.IngestionBatch
		err  error
	)
	switch {
	case runCtx.Err() != nil:
		cause := context.Cause(runCtx)
		log.Warn("Ingestion batch cancelled", zap.Error(cause))
		done, err = o.tracker.Fail(ctx, b.BatchID, elapsed, msgCancelledPrefix+cause.Error())
	case runErr != nil:
		log.Error("Ingestion batch aborted", zap.Error(runErr))
		done, err = o.tracker.Fail(ctx, b.BatchID, elapsed, failPrefix+runErr.Error())
	default:
		done, err = o.tracker.Complete(ctx, b.BatchID, elapsed)
	}

	errs, warnings := rep.snapshot()
	if err != nil {
		log.Error("Failed to finalize ingestion batch", zap.Error(err))
		resp := failedResponse(o.now(), start, msgInternalPrefix+err.Error())
		resp.IngestionID, resp.BatchID = b.ID, b.BatchID
		resp.ValidationErrors, resp.Warnings = errs, warnings
		return resp
	}

	resp := batchResponse(done, batch.Summary(done))
	resp.ValidationErrors, resp.Warnings = errs, warnings
	return resp
}
