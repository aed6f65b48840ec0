package elk

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Ingester reads every raw item from a Source, enriches it and submits it to
// an Uploader, then flushes the Uploader once at the end.
type Ingester struct {
	// EnrichConcurrency is the number of items enriched at once. Above 1, the
	// Ingester reads a batch worth of items, enriches them concurrently, and
	// submits the results in source order.
	EnrichConcurrency int

	src      Source
	enricher Enricher
	uploader *Uploader
	log      Logger
	stats    Statter

	aborted      int32
	mu           sync.Mutex
	cancelWrites context.CancelFunc
}

// Progress counts what a run did. It is for reporting only.
type Progress struct {
	Read      int // raw items read from the source
	Submitted int // enriched records submitted to the uploader
	Skipped   int // raw items which could not be enriched
	Written   int // documents written to the store
	Batches   int // bulk requests written
}

// IngesterOption is a functional option for Ingester.
type IngesterOption func(n *Ingester)

// OptIngesterLogger sets the Ingester's logger.
func OptIngesterLogger(l Logger) IngesterOption {
	return func(n *Ingester) {
		n.log = l
	}
}

// OptIngesterStatter sets the Ingester's Statter.
func OptIngesterStatter(s Statter) IngesterOption {
	return func(n *Ingester) {
		n.stats = s
	}
}

// NewIngester gets an Ingester. The Ingester owns the uploader for the
// duration of Run.
func NewIngester(source Source, enricher Enricher, uploader *Uploader, opts ...IngesterOption) *Ingester {
	n := &Ingester{
		EnrichConcurrency: 1,
		src:               source,
		enricher:          enricher,
		uploader:          uploader,
		log:               NopLogger{},
		stats:             NopStatter{},
		cancelWrites:      func() {},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Abort stops a running ingest without writing the partial batch. Run
// returns a *BatchError wrapping ErrAborted which says how many documents
// were written. Abort is safe to call from any goroutine.
func (n *Ingester) Abort() {
	atomic.StoreInt32(&n.aborted, 1)
	n.mu.Lock()
	n.cancelWrites()
	n.mu.Unlock()
}

func (n *Ingester) isAborted() bool { return atomic.LoadInt32(&n.aborted) == 1 }

type enriched struct {
	rec EnrichedRecord
	err error
}

// Run ingests until the source is exhausted, ctx is done, or a bulk write
// fails. When ctx is done, Run stops reading, flushes what it has, and
// returns ctx.Err(). A source error also stops the run after a final flush.
func (n *Ingester) Run(ctx context.Context) (Progress, error) {
	var p Progress
	// Writes are not tied to ctx so that a stop request still flushes.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	n.mu.Lock()
	n.cancelWrites = cancel
	n.mu.Unlock()

	chunk := 1
	if n.EnrichConcurrency > 1 {
		chunk = n.uploader.MaxItems()
	}

	var stopErr error
	for stopErr == nil {
		if n.isAborted() {
			return n.abort(p)
		}
		if ctx.Err() != nil {
			stopErr = ctx.Err()
			break
		}
		raws, err := n.read(chunk)
		p.Read += len(raws)
		if err != nil && err != io.EOF {
			n.log.Printf("reading source: %v", err)
			stopErr = errors.Wrap(err, "reading source")
		}
		results := n.enrichAll(ctx, raws)
		if ctx.Err() != nil {
			// Items enriched during cancellation may be missing lookups.
			stopErr = ctx.Err()
			break
		}
		for i, res := range results {
			if res.err != nil {
				n.log.Warnf("skipping item %d from %s: %v", p.Read-len(raws)+i, raws[i].Origin(), res.err)
				n.stats.Count("records.skipped", 1, 1)
				p.Skipped++
				continue
			}
			if n.isAborted() {
				return n.abort(p)
			}
			if serr := n.uploader.SubmitRecord(wctx, res.rec); serr != nil {
				if n.isAborted() {
					return n.abort(p)
				}
				p.Written, p.Batches = n.uploader.Written(), n.uploader.Batches()
				return p, serr
			}
			p.Submitted++
			n.stats.Count("records.submitted", 1, 1)
		}
		if err == io.EOF {
			break
		}
	}

	if n.isAborted() {
		return n.abort(p)
	}
	ferr := n.uploader.Flush(wctx)
	p.Written, p.Batches = n.uploader.Written(), n.uploader.Batches()
	if ferr != nil && n.isAborted() {
		return n.abort(p)
	}
	if ferr != nil {
		return p, ferr
	}
	n.log.Printf("ingested %d items: %d written in %d batches, %d skipped", p.Read, p.Written, p.Batches, p.Skipped)
	return p, stopErr
}

func (n *Ingester) abort(p Progress) (Progress, error) {
	dropped := n.uploader.Discard()
	n.uploader.Wait()
	p.Written, p.Batches = n.uploader.Written(), n.uploader.Batches()
	n.log.Printf("aborted: %d documents written, %d discarded", p.Written, dropped)
	return p, &BatchError{Written: p.Written, Err: ErrAborted}
}

// read gets up to max items from the source. It returns io.EOF along with
// the items read before the source was exhausted.
func (n *Ingester) read(max int) ([]RawRecord, error) {
	raws := make([]RawRecord, 0, max)
	for len(raws) < max {
		rec, err := n.src.Record()
		if err != nil {
			return raws, err
		}
		raws = append(raws, rec)
	}
	return raws, nil
}

// enrichAll enriches raws, concurrently if configured to. Results line up
// with raws.
func (n *Ingester) enrichAll(ctx context.Context, raws []RawRecord) []enriched {
	results := make([]enriched, len(raws))
	if n.EnrichConcurrency <= 1 || len(raws) < 2 {
		for i, raw := range raws {
			results[i].rec, results[i].err = n.enricher.Enrich(ctx, raw)
		}
		return results
	}
	var eg errgroup.Group
	eg.SetLimit(n.EnrichConcurrency)
	for i := range raws {
		i := i
		eg.Go(func() error {
			results[i].rec, results[i].err = n.enricher.Enrich(ctx, raws[i])
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
