package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/gateway/store"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

// DefaultHistoryRetention is how long token change history is kept.
const DefaultHistoryRetention = 365 * 24 * time.Hour

// HousekeepingService periodically drops verifier keys past their
// retention window and trims old token change history. Token and session
// records expire on their own in the store.
type HousekeepingService struct {
	KeyManager       *jwtx.KeyManager
	History          store.History // optional
	HistoryRetention time.Duration
	Logger           *slog.Logger
	Interval         time.Duration

	// Now overrides the clock (tests only).
	Now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(km *jwtx.KeyManager, history store.History, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		KeyManager:       km,
		History:          history,
		HistoryRetention: DefaultHistoryRetention,
		Logger:           logger,
		Interval:         interval,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each step is independent; a failure in one does
// not stop the other.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	if pruned := s.KeyManager.Prune(now); len(pruned) > 0 {
		s.Logger.Info("pruned retired signing keys", "kids", pruned)
	}

	if s.History == nil {
		return
	}
	retention := s.HistoryRetention
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	n, err := s.History.DeleteBefore(ctx, now.Add(-retention))
	if err != nil {
		s.Logger.Error("failed to trim token change history", "error", err)
		return
	}
	if n > 0 {
		s.Logger.Info("trimmed token change history", "deleted", n)
	}
}
