// Package ratelimit throttles guests and non-admin users by counting requests
// per client in fixed windows that end when the counters are flushed.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/telemetry"
)

// ErrRateLimited is matched by the error returned from Decision.Err.
var ErrRateLimited = errors.New("rate limited")

// Tiers reported in decisions and metrics.
const (
	TierAdmin = "admin"
	TierUser  = "user"
	TierGuest = "guest"
)

// Config holds the tier limits. A nil limit means the tier is unlimited; a
// zero RefreshPeriod means counters are never flushed.
type Config struct {
	UsersLimit    *int64
	GuestsLimit   *int64
	RefreshPeriod time.Duration
}

// Decision is the outcome of CheckAndIncrement.
type Decision struct {
	Allowed bool
	Tier    string
	// Limit applied; zero with Limited false when the tier is unlimited.
	Limit   int64
	Limited bool
	Count   int64
	// ResetAt is the next scheduled flush, zero when none is scheduled.
	ResetAt time.Time
	Message string
}

// Err returns nil for an allowed decision and a *LimitError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Decision: d}
}

// LimitError carries a rejected Decision and unwraps to ErrRateLimited.
type LimitError struct {
	Decision Decision
}

func (e *LimitError) Error() string { return e.Decision.Message }

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Limiter applies tiered limits over a Counter and flushes it on a fixed
// period once Start is called.
type Limiter struct {
	cfg     Config
	counter Counter
	metrics *telemetry.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	lastFlush time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Limiter. A nil counter selects a MemoryCounter; metrics may
// be nil.
func New(cfg Config, counter Counter, metrics *telemetry.Metrics, logger *slog.Logger) *Limiter {
	if counter == nil {
		counter = NewMemoryCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:       cfg,
		counter:   counter,
		metrics:   metrics,
		logger:    logger,
		lastFlush: time.Now(),
	}
}

// Config returns the limiter's configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckAndIncrement decides whether clientID at level may proceed. Admins
// and unlimited tiers pass without touching the counter. Otherwise the
// request is admitted while the client's count is below the limit, and the
// count is incremented.
func (l *Limiter) CheckAndIncrement(ctx context.Context, clientID string, level model.PermissionLevel) (Decision, error) {
	if level >= model.LevelAdmin {
		l.metrics.RecordRateLimit(TierAdmin, true)
		return Decision{Allowed: true, Tier: TierAdmin}, nil
	}

	tier, limit := TierGuest, l.cfg.GuestsLimit
	if level > model.LevelRevoked {
		tier, limit = TierUser, l.cfg.UsersLimit
	}
	if limit == nil {
		l.metrics.RecordRateLimit(tier, true)
		return Decision{Allowed: true, Tier: tier}, nil
	}

	count, ok, err := l.counter.Take(ctx, clientID, *limit)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed: ok,
		Tier:    tier,
		Limit:   *limit,
		Limited: true,
		Count:   count,
		ResetAt: l.nextFlush(),
	}
	if !ok {
		d.Message = l.Message()
		l.logger.Debug("rate limited", "client", clientID, "tier", tier, "count", count, "limit", *limit)
	}
	l.metrics.RecordRateLimit(tier, ok)
	return d, nil
}

// Message is the client-facing text returned with a rejected request.
func (l *Limiter) Message() string {
	if l.cfg.RefreshPeriod <= 0 {
		return "Rate limited. Authenticate, upgrade, or wait to lift the limit."
	}
	hours := strconv.FormatFloat(l.cfg.RefreshPeriod.Hours(), 'f', -1, 64)
	return "Rate limited. Authenticate, upgrade, or wait " + hours + " hours to lift the limit."
}

// Reset clears every counter and starts a new window.
func (l *Limiter) Reset(ctx context.Context) error {
	if err := l.counter.Reset(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	l.lastFlush = time.Now()
	l.mu.Unlock()
	return nil
}

// Start schedules the flush loop. Only the first call has any effect, and
// with no refresh period nothing is scheduled. Non-blocking.
func (l *Limiter) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		if l.cfg.RefreshPeriod <= 0 {
			l.logger.Info("rate limit counters will not be flushed", "reason", "no refresh period")
			return
		}

		loopCtx, cancel := context.WithCancel(ctx)
		l.mu.Lock()
		l.cancel = cancel
		l.mu.Unlock()

		// Start with an empty window.
		if err := l.Reset(loopCtx); err != nil {
			l.logger.Warn("rate limit reset failed", "error", err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()

			ticker := time.NewTicker(l.cfg.RefreshPeriod)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if err := l.Reset(loopCtx); err != nil {
						l.logger.Warn("rate limit flush failed", "error", err)
						continue
					}
					l.logger.Debug("rate limit counters flushed")
				case <-loopCtx.Done():
					return
				}
			}
		}()
		l.logger.Info("rate limit flush loop started", "period", l.cfg.RefreshPeriod)
	})
}

// Stop cancels the flush loop and waits for it to exit.
func (l *Limiter) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Limiter) nextFlush() time.Time {
	if l.cfg.RefreshPeriod <= 0 {
		return time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFlush.Add(l.cfg.RefreshPeriod)
}
