// Package sweep periodically rescans the upcoming agenda of every center for
// conflicts and broadcasts the counts so open calendars can refresh their
// conflict banner.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/clinica/agenda/internal/platform/websocket"
)

// Result is the conflict count of one center over [From, To).
type Result struct {
	CenterID string    `json:"center_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Total    int       `json:"total"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
}

// CenterLister returns the centers to sweep.
type CenterLister func(ctx context.Context) ([]string, error)

// Checker counts the conflicts of one center in [from, to). It fills the
// counts only; the sweeper sets the center and window.
type Checker func(ctx context.Context, centerID string, from, to time.Time) (Result, error)

type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// HorizonDays is how many days from today are swept. Defaults to 7.
	HorizonDays int
	Location    *time.Location
}

type Sweeper struct {
	cfg       Config
	centers   CenterLister
	check     Checker
	publisher websocket.EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
	cron      *cron.Cron
}

func New(cfg Config, centers CenterLister, check Checker, publisher websocket.EventPublisher, logger zerolog.Logger) *Sweeper {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Sweeper{
		cfg:       cfg,
		centers:   centers,
		check:     check,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Window returns the swept range for the current time: local midnight today
// through HorizonDays days later.
func (s *Sweeper) Window() (time.Time, time.Time) {
	now := s.now().In(s.cfg.Location)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
	return from, from.AddDate(0, 0, s.cfg.HorizonDays)
}

// RunOnce sweeps every center once. A failing center is logged and skipped;
// the returned error joins all failures.
func (s *Sweeper) RunOnce(ctx context.Context) ([]Result, error) {
	centers, err := s.centers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	from, to := s.Window()

	var results []Result
	var errs []error
	for _, centerID := range centers {
		res, err := s.check(ctx, centerID, from, to)
		if err != nil {
			s.logger.Error().Err(err).Str("center_id", centerID).Msg("conflict sweep failed")
			errs = append(errs, fmt.Errorf("center %s: %w", centerID, err))
			continue
		}
		res.CenterID, res.From, res.To = centerID, from, to
		results = append(results, res)

		ev, err := websocket.NewEvent(websocket.EventConflictsSwept, websocket.CenterTopic(centerID), "", res)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ev.CenterID = centerID
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("center_id", centerID).Msg("publish sweep result")
		}
		if res.Errors > 0 {
			s.logger.Info().Str("center_id", centerID).Int("errors", res.Errors).Int("warnings", res.Warnings).
				Msg("agenda has blocking conflicts")
		}
	}
	return results, errors.Join(errs...)
}

// Start schedules RunOnce on the configured cron expression.
func (s *Sweeper) Start() error {
	c := cron.New(cron.WithLocation(s.cfg.Location))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		start := time.Now()
		results, _ := s.RunOnce(ctx)
		s.logger.Debug().Int("centers", len(results)).Dur("took", time.Since(start)).Msg("conflict sweep done")
	})
	if err != nil {
		return fmt.Errorf("schedule conflict sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts scheduling and returns a context that is done once a running
// sweep finishes.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}
