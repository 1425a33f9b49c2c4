package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
)

const defaultBatchSize = 1000

// CleanupResult summarises one pruning pass
type CleanupResult struct {
	Scanned      int
	Expired      int
	BlobsDeleted int
	Failed       int
	Orphans      int
}

// Cleanup deletes records (and their blobs) whose last fetch is older than
// maxAgeDays, then sweeps unreferenced blobs older than OrphanGrace.
// Placeholders age from the profile event that created them. A record that
// fails to delete is logged and skipped.
func (s *Scanner) Cleanup(ctx context.Context, maxAgeDays int) (*CleanupResult, error) {
	start := s.now()
	cutoff := start.Add(-time.Duration(maxAgeDays) * 24 * time.Hour).UnixMilli()

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	result := &CleanupResult{}
	referenced := make(map[string]struct{})
	var expired []*models.CacheRecord

	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records, next, err := s.store.ScanRecords(ctx, cursor, batch)
		if err != nil {
			// Without a complete view of live records the orphan sweep is unsafe
			return result, fmt.Errorf("scan cache records: %w", err)
		}

		for _, record := range records {
			result.Scanned++
			if recordAge(record) >= cutoff {
				for _, key := range record.BlobKeys() {
					referenced[key] = struct{}{}
				}
				continue
			}
			expired = append(expired, record)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	// Deleting while the cursor is open can make the store skip keys
	for _, record := range expired {
		s.prune(ctx, record, result)
	}

	s.sweepOrphans(ctx, referenced, result)

	prunedRecords.Add(float64(result.Expired))
	prunedBlobs.Add(float64(result.BlobsDeleted + result.Orphans))
	s.logger.Info("cleanup complete",
		"scanned", result.Scanned,
		"expired", result.Expired,
		"blobs_deleted", result.BlobsDeleted,
		"orphans", result.Orphans,
		"failed", result.Failed,
		"duration", s.now().Sub(start))
	return result, nil
}

func (s *Scanner) prune(ctx context.Context, record *models.CacheRecord, result *CleanupResult) {
	keys := record.BlobKeys()
	deleted := s.store.DeleteBlobs(ctx, keys)
	result.BlobsDeleted += deleted

	if deleted < len(keys) || !s.store.Delete(ctx, record.Identity) {
		result.Failed++
		s.logger.Warn("failed to prune record, continuing",
			"identity", record.Identity,
			"blobs", len(keys),
			"blobs_deleted", deleted)
		return
	}
	result.Expired++
}

// sweepOrphans deletes blobs no live record points at once they are older
// than the grace period, which covers writes racing this pass
func (s *Scanner) sweepOrphans(ctx context.Context, referenced map[string]struct{}, result *CleanupResult) {
	graceCutoff := s.now().Add(-s.cfg.OrphanGrace)

	for _, info := range s.store.ListBlobs(ctx, models.BlobRoot) {
		if _, ok := referenced[info.Key]; ok {
			continue
		}
		if info.StoredAt.After(graceCutoff) {
			continue
		}
		if s.store.DeleteBlob(ctx, info.Key) {
			result.Orphans++
			s.logger.Debug("deleted orphan blob", "blob_key", info.Key, "stored_at", info.StoredAt)
		}
	}
}

// recordAge returns the unix millis a record ages from
func recordAge(record *models.CacheRecord) int64 {
	if record.FetchedAt != 0 {
		return record.FetchedAt
	}
	return record.SourceUpdatedAt * 1000
}
