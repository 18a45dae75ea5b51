// Package replicator drives the per-event replication pipeline: admit the
// event, fetch the root record, deliver it, follow the subject pointer,
// then fan out over the configured related-resource collections.
//
// Failure policy: anything on the root or subject path is fatal to the
// event (which stays marked seen, so the same id is never reprocessed).
// Failures on a related-resource branch are isolated: a fetch failure
// skips that one type, and a record whose delivery exhausts its retries
// ends that type's loop without touching the other branches.
package replicator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juanjortega/openhimtoFhirproxy/internal/domain"
	"github.com/juanjortega/openhimtoFhirproxy/internal/metrics"
)

// Source fetches typed records from the upstream system.
type Source interface {
	FetchOne(ctx context.Context, path string) (domain.Record, error)
	FetchCollection(ctx context.Context, query string) ([]domain.Record, error)
}

// Sink delivers one typed record downstream, returning the status code.
type Sink interface {
	Deliver(ctx context.Context, rec domain.Record) (int, error)
}

// Executor wraps a delivery operation with the retry policy.
type Executor interface {
	Do(ctx context.Context, label string, op func(context.Context) error) (int, error)
}

// SeenSet gates admission. Admit must be an atomic check-and-mark.
type SeenSet interface {
	Admit(ctx context.Context, id string) bool
	Len() int
}

// MetricsSink defines the interface for recording replicator metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventProcessed(status string, duration time.Duration)
	EventsInFlightIncr()
	EventsInFlightDecr()
	BranchSkipped(resourceType string)
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	SeenSetSize(size int)
}

// Replicator owns the per-event state machine.
type Replicator struct {
	seen    SeenSet
	source  Source
	sink    Sink
	exec    Executor
	related []domain.RelatedResource

	rootType string
	workers  int

	logger  *zap.Logger
	metrics MetricsSink // optional, nil = disabled
}

// New creates a Replicator processing the related types sequentially.
func New(seen SeenSet, source Source, sink Sink, exec Executor, related []domain.RelatedResource, logger *zap.Logger) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicator{
		seen:     seen,
		source:   source,
		sink:     sink,
		exec:     exec,
		related:  related,
		rootType: "Encounter",
		workers:  1,
		logger:   logger,
	}
}

// WithRootType sets the resource type the event id names.
func (r *Replicator) WithRootType(rootType string) *Replicator {
	if rootType != "" {
		r.rootType = rootType
	}
	return r
}

// WithWorkers bounds the fan-out over related-resource branches.
// 1 keeps processing sequential.
func (r *Replicator) WithWorkers(n int) *Replicator {
	if n > 0 {
		r.workers = n
	}
	return r
}

// WithMetrics attaches a metrics sink to the replicator.
func (r *Replicator) WithMetrics(sink MetricsSink) *Replicator {
	r.metrics = sink
	return r
}

// ProcessEvent runs one event start to finish and returns its summary.
// The event is marked seen before any fetch begins, so a crash mid-event
// never re-admits the same id.
func (r *Replicator) ProcessEvent(ctx context.Context, id string) domain.ProcessResult {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.EventsInFlightIncr()
		defer r.metrics.EventsInFlightDecr()
	}

	result := r.process(ctx, id)

	if r.metrics != nil {
		r.metrics.EventProcessed(string(result.Status), time.Since(start))
		r.metrics.SeenSetSize(r.seen.Len())
	}
	return result
}

func (r *Replicator) process(ctx context.Context, id string) domain.ProcessResult {
	logger := r.logger.With(zap.String("event_id", id))

	if !r.seen.Admit(ctx, id) {
		logger.Info("duplicate event, skipping")
		return domain.ProcessResult{ID: id, Status: domain.StatusDuplicate}
	}

	// The id is now marked seen, so abandoning the event here would strand
	// it with undelivered records. Run to completion or to a fatal error;
	// the caller's cancellation no longer applies.
	ctx = context.WithoutCancel(ctx)

	// Step 1: root record. Fatal on failure; the id stays seen.
	rootPath := r.rootType + "/" + id
	root, err := r.source.FetchOne(ctx, rootPath)
	if err != nil {
		logger.Error("root fetch failed", zap.String("path", rootPath), zap.Error(err))
		return errorResult(id, fmt.Errorf("fetch root: %w", err))
	}

	// Step 2: deliver root. Fatal on failure.
	if err := r.deliver(ctx, logger, root); err != nil {
		logger.Error("root delivery failed", zap.String("resource", root.Identity()), zap.Error(err))
		return errorResult(id, fmt.Errorf("deliver root: %w", err))
	}
	delivered := 1

	// Step 3: subject, when the root points at one. A subject failure is
	// fatal like the root, unlike the related branches below.
	if ref, ok := root.SubjectReference(); ok {
		subject, err := r.source.FetchOne(ctx, ref)
		if err != nil {
			logger.Error("subject fetch failed", zap.String("path", ref), zap.Error(err))
			return errorResult(id, fmt.Errorf("fetch subject: %w", err))
		}
		if err := r.deliver(ctx, logger, subject); err != nil {
			logger.Error("subject delivery failed", zap.String("resource", subject.Identity()), zap.Error(err))
			return errorResult(id, fmt.Errorf("deliver subject: %w", err))
		}
		delivered++
	} else {
		logger.Info("root has no subject reference, skipping subject")
	}

	// Step 4: related-resource branches, each isolated.
	delivered += r.processRelated(ctx, logger, id)

	logger.Info("event replicated", zap.Int("delivered", delivered))
	return domain.ProcessResult{ID: id, Status: domain.StatusOK, Delivered: delivered}
}

// processRelated fans out over the configured related types and returns
// the number of records delivered across all branches. With workers > 1
// the branches run concurrently; the count is aggregated atomically so it
// is correct regardless of completion order.
func (r *Replicator) processRelated(ctx context.Context, logger *zap.Logger, rootID string) int {
	if r.workers <= 1 || len(r.related) <= 1 {
		total := 0
		for _, spec := range r.related {
			total += r.processBranch(ctx, logger, rootID, spec)
		}
		return total
	}

	var total atomic.Int64
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for _, spec := range r.related {
		wg.Add(1)
		sem <- struct{}{}
		go func(spec domain.RelatedResource) {
			defer wg.Done()
			defer func() { <-sem }()
			total.Add(int64(r.processBranch(ctx, logger, rootID, spec)))
		}(spec)
	}
	wg.Wait()
	return int(total.Load())
}

// processBranch pulls one related collection and delivers its records.
// A fetch failure skips the branch. A record delivery failure (after the
// executor's retries) ends this branch's loop; records already delivered
// still count.
func (r *Replicator) processBranch(ctx context.Context, logger *zap.Logger, rootID string, spec domain.RelatedResource) int {
	query := spec.Query(rootID)
	records, err := r.source.FetchCollection(ctx, query)
	if err != nil {
		logger.Warn("resource type unavailable for this event",
			zap.String("resource_type", spec.Type),
			zap.String("query", query),
			zap.Error(err),
		)
		if r.metrics != nil {
			r.metrics.BranchSkipped(spec.Type)
		}
		return 0
	}

	delivered := 0
	for _, rec := range records {
		if rec.Type == "" || rec.ID == "" {
			logger.Warn("skipping record without type or id", zap.String("resource_type", spec.Type))
			continue
		}
		if err := r.deliver(ctx, logger, rec); err != nil {
			logger.Warn("abandoning remaining records of type",
				zap.String("resource_type", spec.Type),
				zap.String("resource", rec.Identity()),
				zap.Error(err),
			)
			if r.metrics != nil {
				r.metrics.BranchSkipped(spec.Type)
			}
			break
		}
		delivered++
	}
	return delivered
}

// deliver pushes one record through the retrying executor and records the
// outcome. Only idempotent operations may go through the executor; a
// full-document upsert keyed by (type, id) is.
func (r *Replicator) deliver(ctx context.Context, logger *zap.Logger, rec domain.Record) error {
	outcome := domain.DeliveryOutcome{
		AttemptID: uuid.New(),
		Resource:  rec.Identity(),
		StartedAt: time.Now().UTC(),
	}

	var attemptNo atomic.Int64
	attempts, err := r.exec.Do(ctx, "deliver "+rec.Identity(), func(ctx context.Context) error {
		n := int(attemptNo.Add(1))
		started := time.Now()
		status, err := r.sink.Deliver(ctx, rec)
		if r.metrics != nil {
			r.metrics.DeliveryAttemptCompleted(n, metrics.ClassifyStatus(status, err), time.Since(started))
		}
		return err
	})

	outcome.Attempts = attempts
	outcome.FinishedAt = time.Now().UTC()
	outcome.Success = err == nil
	if err != nil {
		outcome.Error = err.Error()
	}

	if r.metrics != nil {
		if err != nil {
			r.metrics.DeliveryOutcome(metrics.OutcomeFailed)
		} else {
			r.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
		}
	}
	logger.Debug("delivery finished",
		zap.String("resource", outcome.Resource),
		zap.String("attempt_id", outcome.AttemptID.String()),
		zap.Int("attempts", outcome.Attempts),
		zap.Bool("success", outcome.Success),
	)
	return err
}

func errorResult(id string, err error) domain.ProcessResult {
	return domain.ProcessResult{ID: id, Status: domain.StatusError, Error: err.Error()}
}
