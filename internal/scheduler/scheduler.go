// Package scheduler fires ingestion runs once at start and then on a fixed
// interval or a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/process"
)

const DefaultRunTimeout = 30 * time.Minute

// Runner is one ingestion run.
type Runner interface {
	Run(ctx context.Context) (process.Report, error)
}

// Config selects the trigger. Cron wins over Interval; neither means one-shot.
type Config struct {
	Interval   time.Duration
	Cron       string
	RunTimeout time.Duration
}

// Scheduler drives a Runner until its context is cancelled.
type Scheduler struct {
	runner   Runner
	cfg      Config
	schedule cron.Schedule
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the configuration.
func New(r Runner, cfg Config) (*Scheduler, error) {
	if r == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative")
	}

	s := &Scheduler{runner: r, cfg: cfg}
	if cfg.Cron != "" {
		schedule, err := cronParser.Parse(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
		}
		s.schedule = schedule
	}
	return s, nil
}

// Start runs once immediately and then blocks, firing on schedule, until ctx
// is done. In one-shot mode it returns after the first run with its error.
func (s *Scheduler) Start(ctx context.Context) error {
	switch {
	case s.schedule != nil:
		log.Info().Str("cron", s.cfg.Cron).Msg("Running in cron mode")
	case s.cfg.Interval > 0:
		log.Info().Int64("interval_minutes", int64(s.cfg.Interval.Minutes())).Msg("Running in periodic mode")
	default:
		log.Info().Msg("Running in one-shot mode")
	}

	err := s.RunOnce(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Processing cycle canceled by shutdown signal")
		return nil
	}

	switch {
	case s.schedule != nil:
		return s.runCron(ctx)
	case s.cfg.Interval > 0:
		return s.runTicker(ctx)
	default:
		if err == nil {
			log.Info().Msg("One-shot processing completed, exiting")
		}
		return err
	}
}

func (s *Scheduler) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.cfg.Interval).
		Time("next_run", time.Now().Add(s.cfg.Interval)).
		Msg("Waiting for next processing cycle")

	for {
		select {
		case <-ticker.C:
			log.Info().Msg("Starting scheduled processing cycle")
			if err := s.RunOnce(ctx); errors.Is(err, context.Canceled) {
				log.Info().Msg("Processing cycle canceled by shutdown signal")
				return nil
			}
			log.Info().
				Time("next_run", time.Now().Add(s.cfg.Interval)).
				Msg("Waiting for next processing cycle")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic processing")
			return nil
		}
	}
}

func (s *Scheduler) runCron(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		log.Info().Msg("Starting scheduled processing cycle")
		s.RunOnce(ctx)
	}))

	c.Start()
	log.Info().Time("next_run", s.schedule.Next(time.Now())).Msg("Waiting for next processing cycle")

	<-ctx.Done()
	log.Info().Msg("Shutting down cron processing")
	<-c.Stop().Done()
	return nil
}

// RunOnce performs one run under RunTimeout. Failures are logged; the next
// firing is the retry.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	_, err := s.runner.Run(runCtx)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Error().Err(err).Msg("Processing cycle failed")
	}
	return err
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
