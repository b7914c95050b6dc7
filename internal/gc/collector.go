// Package gc reclaims blobs whose reference counter reached the orphaned
// state. Physical bytes are removed first and the counter row last, so a
// failure at any step leaves the row for the next sweep.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"tally/internal/blobstore"
	"tally/internal/models"
	"tally/internal/store"
)

const (
	defaultBatchSize = 500
	queueDrainSize   = 100
)

// Options tunes a Collector. Zero values select defaults.
type Options struct {
	BatchSize int
	// MaxDeletesPerSecond throttles physical deletes; 0 disables the limit.
	MaxDeletesPerSecond float64
	Queue               Queue
	Metrics             *Metrics
	Logger              *slog.Logger
}

// Collector sweeps orphaned blobs.
type Collector struct {
	refs      store.BlobReferenceStore
	blobs     blobstore.BlobStore
	queue     Queue
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *slog.Logger
	batchSize int
}

// New creates a Collector.
func New(refs store.BlobReferenceStore, blobs blobstore.BlobStore, opts Options) *Collector {
	c := &Collector{
		refs:      refs,
		blobs:     blobs,
		queue:     opts.Queue,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		batchSize: opts.BatchSize,
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.queue == nil {
		c.queue = NewMemoryQueue()
	}
	if opts.MaxDeletesPerSecond > 0 {
		burst := int(opts.MaxDeletesPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxDeletesPerSecond), burst)
	}
	return c
}

// SweepOptions configures one sweep.
type SweepOptions struct {
	BatchSize int
	DryRun    bool
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	DryRun         bool     `json:"dry_run"`
	CandidateCount int      `json:"candidate_count"`
	DeletedCount   int      `json:"deleted_count"`
	FailedCount    int      `json:"failed_count"`
	ReclaimedBytes int64    `json:"reclaimed_bytes"`
	FailedBlobIDs  []string `json:"failed_blob_ids,omitempty"`
}

// Sweep walks every orphaned blob once, in id order. A dry run only counts
// candidates. Failed candidates are logged and skipped; the sweep returns an
// error only when listing itself fails or ctx ends.
func (c *Collector) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	report := SweepReport{DryRun: opts.DryRun}
	if c == nil || c.refs == nil || c.blobs == nil {
		return report, fmt.Errorf("garbage collector is not configured")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = c.batchSize
	}

	cursor := ""
	for {
		candidates, err := c.refs.ListOrphanedBlobs(ctx, cursor, batchSize)
		if err != nil {
			return report, err
		}
		if len(candidates) == 0 {
			break
		}
		cursor = candidates[len(candidates)-1].ID
		report.CandidateCount += len(candidates)

		for _, ref := range candidates {
			if opts.DryRun {
				report.ReclaimedBytes += ref.SizeBytes
				continue
			}
			deleted, err := c.reclaim(ctx, ref)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return report, ctxErr
				}
				report.FailedCount++
				report.FailedBlobIDs = append(report.FailedBlobIDs, ref.ID)
				continue
			}
			if deleted {
				report.DeletedCount++
				report.ReclaimedBytes += ref.SizeBytes
			}
		}
		if len(candidates) < batchSize {
			break
		}
	}

	remaining := -1
	if n, err := c.refs.CountOrphanedBlobs(ctx); err == nil {
		remaining = n
	}
	c.metrics.observeSweep(opts.DryRun, remaining)
	c.log().Info("blob sweep finished",
		"dry_run", report.DryRun,
		"candidates", report.CandidateCount,
		"deleted", report.DeletedCount,
		"failed", report.FailedCount,
		"reclaimed_bytes", report.ReclaimedBytes,
	)
	return report, nil
}

// Reclaim collects the listed blobs immediately. Ids that are no longer
// orphaned or already gone are skipped.
func (c *Collector) Reclaim(ctx context.Context, blobIDs ...string) (SweepReport, error) {
	var report SweepReport
	for _, id := range blobIDs {
		ref, err := c.refs.GetOrphanedBlob(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return report, err
		}
		report.CandidateCount++
		deleted, err := c.reclaim(ctx, *ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.FailedCount++
			report.FailedBlobIDs = append(report.FailedBlobIDs, id)
			continue
		}
		if deleted {
			report.DeletedCount++
			report.ReclaimedBytes += ref.SizeBytes
		}
	}
	return report, nil
}

// Enqueue records blobs orphaned by a delete for prompt reclamation. Queue
// failures are logged only: the periodic sweep finds the blobs anyway.
func (c *Collector) Enqueue(ctx context.Context, blobIDs ...string) {
	if c == nil || len(blobIDs) == 0 {
		return
	}
	if err := c.queue.Push(ctx, blobIDs...); err != nil {
		c.log().Warn("enqueue orphaned blobs", "blob_ids", blobIDs, "error", err)
	}
}

// DrainQueue reclaims everything currently on the worklist.
func (c *Collector) DrainQueue(ctx context.Context) (SweepReport, error) {
	var total SweepReport
	for {
		ids, err := c.queue.Pop(ctx, queueDrainSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		report, err := c.Reclaim(ctx, ids...)
		total.CandidateCount += report.CandidateCount
		total.DeletedCount += report.DeletedCount
		total.FailedCount += report.FailedCount
		total.ReclaimedBytes += report.ReclaimedBytes
		total.FailedBlobIDs = append(total.FailedBlobIDs, report.FailedBlobIDs...)
		if err != nil {
			return total, err
		}
	}
}

// Run sweeps once on start, then drains the worklist every drainEvery and
// runs a full sweep every sweepEvery until ctx is done.
func (c *Collector) Run(ctx context.Context, drainEvery, sweepEvery time.Duration) {
	if drainEvery <= 0 {
		drainEvery = 10 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	c.sweepAndLog(ctx)

	drain := time.NewTicker(drainEvery)
	defer drain.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drain.C:
			if _, err := c.DrainQueue(ctx); err != nil && ctx.Err() == nil {
				c.log().Warn("drain gc queue", "error", err)
			}
		case <-sweep.C:
			c.sweepAndLog(ctx)
		}
	}
}

func (c *Collector) sweepAndLog(ctx context.Context) {
	if _, err := c.Sweep(ctx, SweepOptions{}); err != nil && ctx.Err() == nil {
		c.log().Error("blob sweep failed", "error", err)
	}
}

// reclaim deletes the bytes of one orphaned blob, thumbnails first, then
// the guarded counter row. deleted is false when the row had already gone or
// was no longer orphaned at commit.
func (c *Collector) reclaim(ctx context.Context, ref models.BlobReference) (deleted bool, err error) {
	defer func() {
		if err != nil {
			c.metrics.observeFailure()
			c.log().Warn("blob reclaim failed", "blob_id", ref.ID, "error", err)
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, &ReclaimError{BlobID: ref.ID, Err: err}
		}
	}
	if err := c.blobs.DeleteThumbnails(ctx, ref.ID); err != nil {
		return false, &ReclaimError{BlobID: ref.ID, Err: err}
	}
	if err := c.blobs.Delete(ctx, ref.ID); err != nil {
		return false, &ReclaimError{BlobID: ref.ID, Err: err}
	}
	deleted, err = c.refs.DeleteOrphanedBlob(ctx, ref.ID)
	if err != nil {
		return false, &ReclaimError{BlobID: ref.ID, Err: err}
	}
	if deleted {
		c.metrics.observeReclaim(ref.SizeBytes)
	}
	return deleted, nil
}

func (c *Collector) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
