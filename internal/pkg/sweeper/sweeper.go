// Package sweeper periodically persists the expiry of subscriptions whose
// window has closed. Read paths derive expiry on their own; the sweep only
// keeps stored statuses and subscriber profiles tidy.
package sweeper

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/FanPass/internal/pkg/env"
	"github.com/ManuelReschke/FanPass/internal/pkg/logger"
)

const (
	DefaultSchedule = "@every 1h"
	runTimeout      = 5 * time.Minute
)

// Expirer flips stale subscriptions and reports how many changed.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type Sweeper struct {
	expirer  Expirer
	schedule string
	cron     *cron.Cron
}

func New(expirer Expirer, schedule string) *Sweeper {
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultSchedule
	}
	log := cron.PrintfLogger(logger.Component("sweeper"))
	return &Sweeper{
		expirer:  expirer,
		schedule: schedule,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}
}

// NewFromEnv reads SUBSCRIPTION_SWEEP_SCHEDULE. It returns nil when the sweep
// is switched off.
func NewFromEnv(expirer Expirer) *Sweeper {
	schedule := strings.TrimSpace(env.GetEnv("SUBSCRIPTION_SWEEP_SCHEDULE", DefaultSchedule))
	if strings.EqualFold(schedule, "off") {
		return nil
	}
	return New(expirer, schedule)
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	log := logger.Component("sweeper")
	n, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		log.WithError(err).Error("subscription sweep failed")
		return 0, err
	}
	log.WithField("expired", n).Info("subscription sweep finished")
	return n, nil
}

// Start schedules the sweep in the background.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	logger.Component("sweeper").WithField("schedule", s.schedule).Info("subscription sweep scheduled")
	return nil
}

// Stop waits up to timeout for a running sweep to finish.
func (s *Sweeper) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		logger.Component("sweeper").Warn("subscription sweep forced to stop")
	}
}
