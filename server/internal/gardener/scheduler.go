package gardener

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the narrow alerting surface the scheduler uses to page
// operators when an automatic gardening pass fails. Nil-safe.
type Notifier interface {
	AlertGardeningFailure(blockID string, cause error)
}

// Scheduler periodically sweeps daily_ledger for blocks aged past a
// threshold and gardens each one asynchronously.
type Scheduler struct {
	db           *sql.DB
	gardener     *Gardener
	interval     time.Duration
	ageThreshold time.Duration
	notifier     Notifier
	ticker       *time.Ticker
	stopChan     chan struct{}
	mutex        sync.RWMutex
	running      bool
	log          zerolog.Logger
}

// NewScheduler builds a Scheduler in a stopped state. notifier may be nil.
func NewScheduler(db *sql.DB, gardener *Gardener, interval, ageThreshold time.Duration, notifier Notifier, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		db:           db,
		gardener:     gardener,
		interval:     interval,
		ageThreshold: ageThreshold,
		notifier:     notifier,
		stopChan:     make(chan struct{}),
		log:          log.With().Str("component", "gardener_scheduler").Logger(),
	}
}

// Start begins the sweep loop. Idempotent: a second call while running
// logs and returns.
func (s *Scheduler) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		s.log.Info().Msg("gardener scheduler already running")
		return
	}

	s.running = true
	s.ticker = time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.log.Info().Dur("interval", s.interval).Msg("gardener scheduler started")
}

// Stop gracefully halts the sweep loop.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}
	s.ticker.Stop()
	s.stopChan <- struct{}{}
	s.running = false
	s.log.Info().Msg("gardener scheduler stopped")
}

// IsRunning reports whether the sweep loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.ageThreshold)
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_id FROM daily_ledger
		WHERE status IN ('PAUSED', 'CLOSED') AND updated_at < $1
	`, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep query failed")
		return
	}

	var blockIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			s.log.Error().Err(err).Msg("sweep scan failed")
			rows.Close()
			return
		}
		blockIDs = append(blockIDs, id)
	}
	rows.Close()

	for _, id := range blockIDs {
		go func(blockID string) {
			gardenCtx, gardenCancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer gardenCancel()
			if err := s.gardener.Garden(gardenCtx, blockID); err != nil {
				s.log.Warn().Err(err).Str("block_id", blockID).Msg("automatic gardening failed, block left intact for retry")
				if s.notifier != nil {
					s.notifier.AlertGardeningFailure(blockID, err)
				}
			}
		}(id)
	}
}
