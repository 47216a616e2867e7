// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/featurebasedb/fbimport/client/egpool"
	"github.com/featurebasedb/fbimport/encoding/proto"
	"github.com/featurebasedb/fbimport/errors"
	"github.com/featurebasedb/fbimport/logger"
	pnet "github.com/featurebasedb/fbimport/net"
	"github.com/featurebasedb/fbimport/stats"
	"golang.org/x/time/rate"
)

// RunImport reads every record from src and imports it into index/field.
// Batches are dispatched to the nodes reported by cache, at most
// Concurrency at a time; reading from src blocks while all workers are
// busy.
//
// The returned error is only for unusable arguments. Import failures are
// recorded in the report.
func RunImport(ctx context.Context, src RecordIterator, index, field string, cache TopologyCache, importer NodeImporter, options ...ImportOption) (*ImportReport, error) {
	opts := &ImportOptions{}
	if err := opts.addOptions(options...); err != nil {
		return nil, errors.Wrap(err, "applying import options")
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validateLabel(index); err != nil {
		return nil, errors.Wrapf(ErrInvalidIndexName, "%q", index)
	}
	if err := validateLabel(field); err != nil {
		return nil, errors.Wrapf(ErrInvalidFieldName, "%q", field)
	}
	if src == nil || cache == nil || importer == nil {
		return nil, errors.New(ErrInvalidOption, "record source, topology cache and importer are required")
	}

	r := newImportRun(index, field, cache, importer, opts)
	return r.run(ctx, src), nil
}

// importRun is the state of a single RunImport call.
type importRun struct {
	index, field string
	opts         *ImportOptions
	cache        TopologyCache
	dispatcher   *Dispatcher
	limiter      *rate.Limiter
	log          logger.Logger
	stats        stats.StatsClient

	// abortCtx is cancelled by the AbortOnFirst policy.
	abortCtx context.Context
	abort    context.CancelFunc

	// tails holds, per shard, a channel closed when the shard's most
	// recently submitted batch is done. Only the producer touches it.
	tails map[uint64]chan struct{}

	mu       sync.Mutex
	report   ImportReport
	inFlight int
}

func newImportRun(index, field string, cache TopologyCache, importer NodeImporter, opts *ImportOptions) *importRun {
	r := &importRun{
		index: index,
		field: field,
		opts:  opts,
		cache: cache,
		log:   opts.logger,
		stats: opts.stats.WithTags("index:"+index, "field:"+field),
		tails: make(map[uint64]chan struct{}),
	}
	r.dispatcher = &Dispatcher{
		Cache:       cache,
		Importer:    importer,
		Serializer:  proto.DefaultSerializer,
		MaxAttempts: opts.Retry.MaxAttemptsPerBatch,
		Logger:      r.log,
		Stats:       r.stats,
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return r
}

func (r *importRun) run(ctx context.Context, src RecordIterator) *ImportReport {
	start := time.Now()
	if r.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Deadline)
		defer cancel()
	}
	r.abortCtx, r.abort = context.WithCancel(ctx)
	defer r.abort()

	pool := &egpool.Group{PoolSize: r.opts.Concurrency}
	batcher := NewBatcher(r.index, r.field, r.opts.ShardWidth, r.opts.BatchSize)

	var sourceErr error
	for r.abortCtx.Err() == nil {
		col, err := src.NextRecord()
		if err == io.EOF {
			break
		} else if err != nil {
			sourceErr = err
			break
		}
		r.addRecords(1)
		if b := batcher.Add(col); b != nil {
			r.submit(pool, b)
		}
	}

	r.log.Debugf("flushing %d buffered records of %s/%s", batcher.Pending(), r.index, r.field)
	rest := batcher.Flush()
	switch {
	case sourceErr != nil:
		r.mu.Lock()
		r.report.SourceErr = sourceErr
		r.log.Errorf("record source failed after %d records: %v", r.report.Records, sourceErr)
		r.mu.Unlock()
		if r.opts.OnFailure == AbortOnFirst {
			r.cancelAll(rest)
			rest = nil
		}
	case r.abortCtx.Err() != nil:
		r.cancelAll(rest)
		rest = nil
	}
	for _, b := range rest {
		r.submit(pool, b)
	}

	if err := pool.Wait(); err != nil {
		r.log.Errorf("import worker failed: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		r.report.Cancelled = true
		r.report.cancelCause = err
	}
	sort.SliceStable(r.report.FailedBatches, func(i, j int) bool {
		return r.report.FailedBatches[i].Shard < r.report.FailedBatches[j].Shard
	})
	r.report.Duration = time.Since(start)
	r.stats.Timing(MetricImportDuration, r.report.Duration, 1.0)
	r.stats.Count(MetricRecordsRead, int64(r.report.Records), 1.0)
	r.log.Infof("import of %s/%s finished: %s", r.index, r.field, &r.report)
	report := r.report
	return &report
}

// submit hands b to a worker, blocking until one is free. Batches which
// cannot be submitted because the import is over are cancelled.
//
// A batch is not sent before the previous batch of the same shard is done,
// so each shard's records reach the cluster in source order.
func (r *importRun) submit(pool *egpool.Group, b *Batch) {
	t := &trackedBatch{Batch: b}
	if r.abortCtx.Err() != nil {
		r.finish(t, BatchCancelled, nil)
		return
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(r.abortCtx); err != nil {
			r.finish(t, BatchCancelled, nil)
			return
		}
	}
	prev, done := r.tails[b.Shard], make(chan struct{})
	err := pool.GoContext(r.abortCtx, func() error {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.failPanic(t, p)
			}
		}()
		if prev != nil {
			<-prev
		}
		r.dispatch(t)
		return nil
	})
	if err != nil {
		r.finish(t, BatchCancelled, nil)
		return
	}
	r.tails[b.Shard] = done
}

// dispatch runs on a worker. A batch whose turn comes after the import
// was cancelled or aborted is never sent.
func (r *importRun) dispatch(t *trackedBatch) {
	if r.abortCtx.Err() != nil {
		r.finish(t, BatchCancelled, nil)
		return
	}

	start := time.Now()
	defer func() { histogramBatchSeconds.Observe(time.Since(start).Seconds()) }()

	nodes, err := r.lookup(t.Batch)
	if err != nil {
		if r.abortCtx.Err() != nil {
			r.finish(t, BatchCancelled, nil)
			return
		}
		r.advance(t, BatchDispatching)
		r.finish(t, BatchFailed, err)
		return
	}

	r.advance(t, BatchDispatching)
	r.stats.Histogram(MetricBatchRecords, float64(t.Len()), 1.0)
	r.trackInFlight(1)
	defer r.trackInFlight(-1)
	// Requests already underway are allowed to complete after the import
	// is cancelled.
	out := r.dispatcher.Send(detach(r.abortCtx), t.Batch, nodes)
	if out.Kind == OutcomeSuccess {
		r.log.Debugf("imported %s to %s", t.Batch, out.Node.HostPort())
		r.finish(t, BatchSucceeded, nil)
		return
	}
	r.finish(t, BatchFailed, out.Err)
}

// lookup resolves the nodes for a batch, retrying topology failures with
// exponential backoff.
func (r *importRun) lookup(b *Batch) ([]pnet.URI, error) {
	start := time.Now()
	defer func() { r.stats.Timing(MetricTopologyLookup, time.Since(start), 1.0) }()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.Retry.TopologyBackoff
	eb.MaxInterval = r.opts.Retry.MaxTopologyBackoff
	eb.Multiplier = defaultTopologyBackoffMult
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.opts.Retry.TopologyRetries)), r.abortCtx)

	var nodes []pnet.URI
	op := func() error {
		var err error
		nodes, err = r.cache.Lookup(r.abortCtx, b.Index, b.Shard)
		if err != nil && !errors.Is(err, ErrTopologyUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		r.log.Warnf("looking up nodes for %s, retrying in %s: %v", b, d, err)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *importRun) addRecords(n int) {
	counterRecordsRead.Add(float64(n))
	r.mu.Lock()
	r.report.Records += n
	r.mu.Unlock()
}

func (r *importRun) trackInFlight(delta int) {
	r.mu.Lock()
	r.inFlight += delta
	n := r.inFlight
	r.mu.Unlock()
	r.stats.Gauge(MetricBatchesInFlight, float64(n), 1.0)
}

func (r *importRun) cancelAll(batches []*Batch) {
	for _, b := range batches {
		r.finish(&trackedBatch{Batch: b}, BatchCancelled, nil)
	}
}

func (r *importRun) advance(t *trackedBatch, to BatchState) {
	if !t.state.canTransition(to) {
		panic(fmt.Sprintf("batch %s: invalid transition %s -> %s", t.Batch, t.state, to))
	}
	t.state = to
}

// finish moves t to a terminal state and records it in the report.
func (r *importRun) finish(t *trackedBatch, to BatchState, err error) {
	if !to.Terminal() {
		panic(fmt.Sprintf("batch %s: %s is not a terminal state", t.Batch, to))
	}
	r.advance(t, to)
	counterBatches.WithLabelValues(to.String()).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch to {
	case BatchSucceeded:
		r.report.SucceededBatches++
		r.report.ImportedRecords += t.Len()
		r.stats.Count(MetricBatchesSucceeded, 1, 1.0)
	case BatchFailed:
		r.log.Errorf("importing %s: %v", t.Batch, err)
		r.report.FailedBatches = append(r.report.FailedBatches, BatchFailure{
			Shard:   t.Shard,
			Field:   t.Field,
			Records: t.Len(),
			Err:     err,
		})
		r.stats.Count(MetricBatchesFailed, 1, 1.0)
		if r.opts.OnFailure == AbortOnFirst {
			r.abort()
		}
	case BatchCancelled:
		r.report.CancelledBatches++
		r.stats.Count(MetricBatchesCancelled, 1, 1.0)
	}
}

// failPanic records a batch whose dispatch panicked. The batch's state is
// left where the panic found it.
func (r *importRun) failPanic(t *trackedBatch, p interface{}) {
	err := egpool.ErrPanic{Value: p}
	counterBatches.WithLabelValues(BatchFailed.String()).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Errorf("importing %s: %v", t.Batch, err)
	r.report.FailedBatches = append(r.report.FailedBatches, BatchFailure{
		Shard:   t.Shard,
		Field:   t.Field,
		Records: t.Len(),
		Err:     err,
	})
	r.stats.Count(MetricBatchesFailed, 1, 1.0)
	if r.opts.OnFailure == AbortOnFirst {
		r.abort()
	}
}

// trackedBatch is a batch and its position in the import.
type trackedBatch struct {
	*Batch
	state BatchState
}

// detachedContext keeps a parent's values but not its cancellation.
type detachedContext struct {
	parent context.Context
}

func detach(ctx context.Context) context.Context { return detachedContext{parent: ctx} }

func (detachedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (detachedContext) Done() <-chan struct{} {
	return nil
}

func (detachedContext) Err() error {
	return nil
}

func (d detachedContext) Value(key interface{}) interface{} {
	return d.parent.Value(key)
}
