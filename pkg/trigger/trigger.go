// Package trigger schedules poll cycles on a fixed delay or a cron
// expression and runs them one at a time.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/c360/sftpstreams/config"
	"github.com/c360/sftpstreams/errors"
)

// Trigger computes when the next cycle runs. first is true before the
// initial cycle; otherwise now is the completion time of the last one.
type Trigger interface {
	Next(now time.Time, first bool) time.Time
}

// Periodic runs after InitialDelay, then FixedDelay after each completion.
type Periodic struct {
	InitialDelay time.Duration
	FixedDelay   time.Duration
}

func (p Periodic) Next(now time.Time, first bool) time.Time {
	if first {
		return now.Add(p.InitialDelay)
	}
	return now.Add(p.FixedDelay)
}

// Cron runs on a standard five field cron schedule.
type Cron struct {
	schedule cron.Schedule
	expr     string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCron parses expr, e.g. "*/5 * * * *" or "@hourly".
func NewCron(expr string) (*Cron, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("cron %q: %w: %v", expr, errors.ErrInvalidConfig, err),
			"Cron", "New", "parse expression")
	}
	return &Cron{schedule: s, expr: expr}, nil
}

func (c *Cron) Next(now time.Time, _ bool) time.Time {
	return c.schedule.Next(now)
}

func (c *Cron) String() string { return c.expr }

// Config selects the trigger. Cron wins when set.
type Config struct {
	FixedDelay   config.Duration `json:"fixed_delay"`
	InitialDelay config.Duration `json:"initial_delay"`
	Cron         string          `json:"cron,omitempty"`
}

// DefaultConfig polls every second.
func DefaultConfig() Config {
	return Config{FixedDelay: config.Duration(time.Second)}
}

// Validate checks delays and the cron expression.
func (c Config) Validate() error {
	if c.Cron != "" {
		_, err := NewCron(c.Cron)
		return err
	}
	if c.FixedDelay.D() <= 0 {
		return errors.WrapInvalid(fmt.Errorf("fixed_delay must be positive: %w", errors.ErrInvalidConfig),
			"trigger.Config", "Validate", "delay check")
	}
	if c.InitialDelay.D() < 0 {
		return errors.WrapInvalid(fmt.Errorf("initial_delay must not be negative: %w", errors.ErrInvalidConfig),
			"trigger.Config", "Validate", "delay check")
	}
	return nil
}

// New builds the configured trigger.
func New(c Config) (Trigger, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Cron != "" {
		return NewCron(c.Cron)
	}
	return Periodic{InitialDelay: c.InitialDelay.D(), FixedDelay: c.FixedDelay.D()}, nil
}

// Poller calls a function on each trigger. Cycles never overlap.
type Poller struct {
	Trigger Trigger
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Run blocks until ctx is done. An error from fn is logged and polling
// continues with the next cycle.
func (p *Poller) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	first := true
	for {
		now := clock.Now()
		wait := p.Trigger.Next(now, first).Sub(now)
		first = false

		timer := clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Poll cycle failed", "error", err, "class", errors.Classify(err).String())
		}
	}
}
