package scanner

import (
	"context"
	"time"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/models"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/repository"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ProfileSource is the relay surface the scanner needs
type ProfileSource interface {
	Recent(ctx context.Context, since time.Time, limit int, timeout time.Duration) ([]*models.ProfileRecord, error)
	ResolveMany(ctx context.Context, identities []string, timeout time.Duration) (map[string]*models.ProfileRecord, error)
}

// Config holds scanner tuning
type Config struct {
	Interval      time.Duration
	Limit         int
	Window        time.Duration
	BatchTimeout  time.Duration
	RetentionDays int
	BatchSize     int64
	OrphanGrace   time.Duration
}

// Scanner discovers new and changed pictures from the relay and prunes
// expired cache entries. It never downloads images; discovered identities
// get a placeholder record that the next request fills in.
type Scanner struct {
	store  *repository.CacheStore
	relay  ProfileSource
	cfg    Config
	now    func() time.Time
	logger Logger
}

// New creates a scanner
func New(store *repository.CacheStore, relay ProfileSource, cfg Config, logger Logger) *Scanner {
	return &Scanner{
		store:  store,
		relay:  relay,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the scanner clock
func (s *Scanner) WithClock(now func() time.Time) *Scanner {
	s.now = now
	return s
}

// ScanResult summarises one discovery pass
type ScanResult struct {
	Events     int
	Discovered int
	Updated    int
	Reset      int
	Skipped    int
}

// Start runs a scan and a cleanup every Interval until ctx is cancelled
func (s *Scanner) Start(ctx context.Context) error {
	s.logger.Info("scanner starting",
		"interval", s.cfg.Interval,
		"limit", s.cfg.Limit,
		"retention_days", s.cfg.RetentionDays)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	if _, err := s.ScanRecent(ctx, s.cfg.Limit); err != nil {
		s.logger.Error("scan failed", "error", err)
	}
	if _, err := s.Cleanup(ctx, s.cfg.RetentionDays); err != nil {
		s.logger.Error("cleanup failed", "error", err)
	}
}

// ScanRecent reads profile events from the last Window, capped at limit
// events or BatchTimeout, and records placeholders for new or changed
// pictures
func (s *Scanner) ScanRecent(ctx context.Context, limit int) (*ScanResult, error) {
	start := s.now()
	since := start.Add(-s.cfg.Window)

	profiles, err := s.relay.Recent(ctx, since, limit, s.cfg.BatchTimeout)
	if err != nil {
		scanRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &ScanResult{Events: len(profiles)}
	for _, p := range profiles {
		s.apply(ctx, p, result)
	}

	scanRuns.WithLabelValues("ok").Inc()
	s.logResult("scan complete", result, start)
	return result, nil
}

// Prime resolves a batch of identities with one subscription and applies
// the same placeholder rules as ScanRecent
func (s *Scanner) Prime(ctx context.Context, identities []string) (*ScanResult, error) {
	start := s.now()

	profiles, err := s.relay.ResolveMany(ctx, identities, s.cfg.BatchTimeout)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Events: len(profiles)}
	for _, id := range identities {
		if p, ok := profiles[id]; ok {
			s.apply(ctx, p, result)
		}
	}

	s.logResult("prime complete", result, start)
	return result, nil
}

// apply records what one profile event says about its identity's picture
func (s *Scanner) apply(ctx context.Context, p *models.ProfileRecord, result *ScanResult) {
	if p.PictureURL == "" {
		result.Skipped++
		return
	}

	record, status := s.store.Get(ctx, p.Identity)
	switch {
	case status == repository.Unavailable:
		// Writing a placeholder could clobber a record we failed to read
		result.Skipped++

	case record == nil:
		if s.store.Put(ctx, models.NewPlaceholder(p.Identity, p.PictureURL, p.UpdatedAt)) {
			result.Discovered++
			discoveries.WithLabelValues("discovered").Inc()
			s.logger.Debug("discovered picture", "identity", p.Identity, "url", p.PictureURL)
		}

	case p.UpdatedAt <= record.SourceUpdatedAt:
		result.Skipped++

	case p.PictureURL == record.OriginalURL:
		// Same picture: keep the fetched variants, only advance the event time
		record.SourceUpdatedAt = p.UpdatedAt
		if s.store.Put(ctx, record) {
			result.Updated++
			discoveries.WithLabelValues("updated").Inc()
		}

	default:
		orphaned := record.ResetToPlaceholder(p.PictureURL, p.UpdatedAt)
		if s.store.Put(ctx, record) {
			s.store.DeleteBlobs(ctx, orphaned)
			result.Reset++
			discoveries.WithLabelValues("reset").Inc()
			s.logger.Info("picture changed, reset to placeholder",
				"identity", p.Identity,
				"url", p.PictureURL,
				"dropped_variants", len(orphaned))
		}
	}
}

func (s *Scanner) logResult(msg string, result *ScanResult, start time.Time) {
	s.logger.Info(msg,
		"events", result.Events,
		"discovered", result.Discovered,
		"updated", result.Updated,
		"reset", result.Reset,
		"skipped", result.Skipped,
		"duration", s.now().Sub(start))
}
