package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/multierr"

	"github.com/xraph/corekit/internal/logger"
)

// Retry runs an operation until it succeeds, the attempts run out or the
// context is done.
type Retry struct {
	config RetryConfig
	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// RetryConfig contains retry configuration.
type RetryConfig struct {
	Name            string          `yaml:"name"`
	MaxAttempts     int             `yaml:"max_attempts"     validate:"gte=0"`
	InitialDelay    time.Duration   `yaml:"initial_delay"`
	MaxDelay        time.Duration   `yaml:"max_delay"`
	Multiplier      float64         `yaml:"multiplier"`
	Jitter          bool            `yaml:"jitter"`
	BackoffStrategy BackoffStrategy `yaml:"backoff_strategy"`
}

// DefaultRetryConfig is three exponential attempts starting at 100ms.
func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		Name:            name,
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2,
		Jitter:          true,
		BackoffStrategy: BackoffStrategyExponential,
	}
}

// BackoffStrategy represents the backoff strategy.
type BackoffStrategy int

const (
	BackoffStrategyExponential BackoffStrategy = iota
	BackoffStrategyFixed
	BackoffStrategyLinear
)

func (s BackoffStrategy) String() string {
	switch s {
	case BackoffStrategyFixed:
		return "fixed"
	case BackoffStrategyLinear:
		return "linear"
	case BackoffStrategyExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ParseBackoffStrategy accepts the String form; anything else is exponential.
func ParseBackoffStrategy(s string) BackoffStrategy {
	switch s {
	case "fixed":
		return BackoffStrategyFixed
	case "linear":
		return BackoffStrategyLinear
	default:
		return BackoffStrategyExponential
	}
}

// RetryError reports every failed attempt.
type RetryError struct {
	Name       string
	Attempts   int
	TotalDelay time.Duration
	LastError  error
	AllErrors  []error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: retry failed after %d attempts: %v", e.Name, e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// Combined returns all attempt errors as one.
func (e *RetryError) Combined() error {
	return multierr.Combine(e.AllErrors...)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// NewRetry creates a retry. A MaxAttempts below one means a single attempt.
func NewRetry(config RetryConfig, l logger.Logger) *Retry {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2
	}
	return &Retry{config: config, logger: logger.OrNoop(l), sleep: sleepContext}
}

// Do calls fn until it returns nil. Errors wrapped with Permanent stop the
// loop immediately and are returned unwrapped.
func (r *Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		errs       []error
		totalDelay time.Duration
	)

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded",
					logger.String("name", r.config.Name),
					logger.Int("attempts", attempt),
					logger.Duration("total_delay", totalDelay))
			}
			return nil
		}

		if p, ok := err.(*permanentError); ok {
			return p.err
		}
		errs = append(errs, err)

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		totalDelay += delay
		r.logger.Debug("retrying",
			logger.String("name", r.config.Name),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	r.logger.Warn("retry failed",
		logger.String("name", r.config.Name),
		logger.Int("attempts", r.config.MaxAttempts),
		logger.Duration("total_delay", totalDelay))

	return &RetryError{
		Name:       r.config.Name,
		Attempts:   r.config.MaxAttempts,
		TotalDelay: totalDelay,
		LastError:  errs[len(errs)-1],
		AllErrors:  errs,
	}
}

func (r *Retry) delay(attempt int) time.Duration {
	var d time.Duration

	switch r.config.BackoffStrategy {
	case BackoffStrategyFixed:
		d = r.config.InitialDelay
	case BackoffStrategyLinear:
		d = r.config.InitialDelay * time.Duration(attempt)
	default:
		d = time.Duration(float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1)))
	}

	// ±25%
	if r.config.Jitter && d > 0 {
		spread := float64(d) * 0.25
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}

	if r.config.MaxDelay > 0 && d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	return d
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
