package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the sweeper once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically removes expired sessions.
type Sweeper struct {
	store    *Store
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper for store. schedule is a cron spec or a
// descriptor such as "@every 30s"; empty selects DefaultSweepSchedule.
func NewSweeper(store *Store, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	sw := &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "session_sweeper").Logger(),
	}
	if _, err := sw.cron.AddFunc(schedule, sw.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return sw, nil
}

// Start begins sweeping in the background.
func (sw *Sweeper) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.running {
		return fmt.Errorf("sweeper is already running")
	}
	sw.running = true
	sw.cron.Start()
	sw.logger.Info().Str("schedule", sw.schedule).Msg("Session sweeper started")
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = false
	sw.mu.Unlock()

	<-sw.cron.Stop().Done()
	sw.logger.Info().Msg("Session sweeper stopped")
}

func (sw *Sweeper) sweep() {
	removed, err := sw.store.Expire(context.Background(), sw.store.now())
	if err != nil {
		sw.logger.Error().Err(err).Msg("Session sweep failed")
		return
	}
	if removed > 0 {
		sw.logger.Debug().Int("removed", removed).Msg("Session sweep finished")
	}
}
