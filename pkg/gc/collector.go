// Package gc removes orphaned payload blobs.
//
// A blob is orphaned when no dataset record references it. The persistent
// store uploads a payload before committing its record, so an import that
// is killed in between leaves one behind. Collection needs the store opened
// read-write, which badger's directory lock makes exclusive: no import can
// be creating blobs while a collection runs.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/content"
)

// Referencer reports the blobs that are still in use.
type Referencer interface {
	ContentIDs(ctx context.Context) ([]content.ContentID, error)
}

// Collector performs one-shot garbage collection of a content store.
type Collector struct {
	referencer   Referencer
	contentStore content.GarbageCollectableStore
	config       Config
}

// Config contains configuration for the garbage collector.
type Config struct {
	// BatchSize is how many orphaned items to delete per batch (default: 1000)
	// S3 supports up to 1000 objects per DeleteObjects call
	BatchSize int

	// DryRun mode logs what would be deleted without actually deleting (default: false)
	DryRun bool
}

// NewCollector creates a new garbage collector.
//
// Parameters:
//   - referencer: Source of referenced ContentIDs (the Data Store)
//   - contentStore: Content store to scan and delete orphaned content
//   - config: Garbage collection configuration
//
// Returns:
//   - *Collector: Initialized collector
//   - error: Returns error if the content store cannot list or batch-delete
func NewCollector(referencer Referencer, contentStore content.ContentStore, config Config) (*Collector, error) {
	gcStore, ok := contentStore.(content.GarbageCollectableStore)
	if !ok {
		return nil, fmt.Errorf("content store %T does not support garbage collection", contentStore)
	}

	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}

	return &Collector{
		referencer:   referencer,
		contentStore: gcStore,
		config:       config,
	}, nil
}

// Run performs a single garbage collection pass:
//  1. Get all ContentIDs referenced by dataset records
//  2. Get all ContentIDs in the content store
//  3. Compute orphaned = existing - referenced
//  4. Batch delete orphaned content (skipped in dry-run mode)
//
// Parameters:
//   - ctx: Context for cancellation, checked between batches
//
// Returns:
//   - *Stats: Collection statistics, filled in as far as the run got
//   - error: Listing errors or context cancellation; per-item delete
//     failures are counted, not returned
func (c *Collector) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	// ========================================================================
	// Step 1: Referenced content
	// ========================================================================

	referenced, err := c.referencer.ContentIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get referenced content: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	referencedSet := make(map[content.ContentID]struct{}, len(referenced))
	for _, id := range referenced {
		referencedSet[id] = struct{}{}
	}

	logger.Debug("GC: %d referenced content items", stats.ReferencedCount)

	// ========================================================================
	// Step 2: Existing content and the orphaned difference
	// ========================================================================

	existing, err := c.contentStore.ListAllContent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list content: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	var orphaned []content.ContentID
	for _, id := range existing {
		if _, ok := referencedSet[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))
	stats.Orphaned = orphaned

	if len(orphaned) == 0 {
		logger.Info("GC: no orphaned content among %d items", stats.ExistingCount)
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - would delete %d of %d items", stats.OrphanedCount, stats.ExistingCount)
		return stats, nil
	}

	// ========================================================================
	// Step 3: Batch delete
	// ========================================================================

	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		batch := orphaned[i:end]

		failures, err := c.contentStore.DeleteBatch(ctx, batch)
		stats.DeletedCount += uint64(len(batch) - len(failures))
		stats.FailedCount += uint64(len(failures))

		for id, ferr := range failures {
			logger.Warn("GC: failed to delete %s: %v", id, ferr)
		}
		if err != nil {
			return stats, err
		}
	}

	logger.Info("GC: deleted %d items, %d failed", stats.DeletedCount, stats.FailedCount)
	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ReferencedCount uint64    // Number of ContentIDs referenced by datasets
	ExistingCount   uint64    // Number of ContentIDs in content store
	OrphanedCount   uint64    // Number of orphaned ContentIDs found
	DeletedCount    uint64    // Number of orphaned items successfully deleted
	FailedCount     uint64    // Number of orphaned items that failed to delete

	// Orphaned lists the IDs found unreferenced (deleted unless dry run)
	Orphaned []content.ContentID
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.DeletedCount, s.FailedCount, s.Duration())
}
