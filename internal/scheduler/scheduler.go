// Package scheduler runs the recurring billing jobs on cron schedules.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const jobTimeout = 10 * time.Minute

// Job is one schedulable unit of work.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	logger  *zerolog.Logger
	running *atomic.Bool
}

func New(logger *zerolog.Logger) *Scheduler {
	log := logger.With().Str("channel", "scheduler").Logger()

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{&log}),
		cron.SkipIfStillRunning(cronLogger{&log}),
	))

	return &Scheduler{
		cron:    c,
		logger:  &log,
		running: atomic.NewBool(false),
	}
}

// Add registers a named job on spec, a standard cron expression or a
// descriptor like "@hourly".
func (s *Scheduler) Add(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		log := s.logger.With().Str("job", name).Logger()
		log.Info().Msg("job started")

		if err := job(ctx); err != nil {
			log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
			return
		}

		log.Info().Dur("duration", time.Since(start)).Msg("job finished")
	})

	if err != nil {
		return errors.Wrapf(err, "unable to schedule job %s", name)
	}

	return nil
}

func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// cronLogger adapts zerolog to the cron.Logger interface used by the
// recover and overlap-skip wrappers.
type cronLogger struct {
	logger *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
