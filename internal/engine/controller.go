package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

const (
	loopLockKey        = "triarb:loop"
	defaultLockTTL     = 30 * time.Second
	lockAcquireTimeout = 5 * time.Second
)

var errStartAborted = fmt.Errorf("stop requested while starting: %w", context.Canceled)

// LoopFactory builds a loop bound to the given credentials. It may verify
// the credentials against the exchange before returning.
type LoopFactory func(ctx context.Context, creds domain.Credentials) (*Loop, error)

// Status is a point-in-time view of the controller.
type Status struct {
	Running   bool                `json:"running"`
	Starting  bool                `json:"starting,omitempty"`
	StartedAt time.Time           `json:"started_at,omitempty"`
	Cycles    uint64              `json:"cycles"`
	LastLine  string              `json:"last_line,omitempty"`
	LastError string              `json:"last_error,omitempty"`
	Last      *domain.CycleReport `json:"-"`
}

// Controller starts and stops the arbitrage loop. It is the only writer of
// the running state; the loop observes it through its context.
type Controller struct {
	factory LoopFactory
	logger  *slog.Logger

	locker  domain.LockManager
	lockTTL time.Duration

	mu         sync.Mutex
	loop       *Loop
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time
	lastErr    error
	starting   bool
	abortStart bool
}

// NewController creates a Controller that builds loops with factory.
func NewController(factory LoopFactory, logger *slog.Logger) *Controller {
	return &Controller{
		factory: factory,
		logger:  logger.With(slog.String("component", "loop_controller")),
		lockTTL: defaultLockTTL,
	}
}

// SetLocker makes Start take a distributed lock so only one process trades
// the account at a time.
func (c *Controller) SetLocker(l domain.LockManager, ttl time.Duration) {
	c.locker = l
	if ttl > 0 {
		c.lockTTL = ttl
	}
}

// Start builds a loop for creds and runs it in the background. It returns
// domain.ErrLoopRunning if a loop is already running or being started.
// The factory and the lock acquisition run without holding the controller
// mutex, so Status and Stop stay responsive during a slow credential check.
func (c *Controller) Start(creds domain.Credentials) error {
	if !creds.Valid() {
		return fmt.Errorf("engine: start: %w: api key and secret are required", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	if c.starting || c.runningLocked() {
		c.mu.Unlock()
		return domain.ErrLoopRunning
	}
	c.starting = true
	c.abortStart = false
	c.mu.Unlock()

	loop, unlock, err := c.prepare(creds)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		c.lastErr = err
		return fmt.Errorf("engine: start: %w", err)
	}
	if c.abortStart {
		if unlock != nil {
			unlock()
		}
		c.logger.Info("loop start cancelled by stop request")
		return fmt.Errorf("engine: start: %w", errStartAborted)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loop = loop
	c.cancel = cancel
	c.done = done
	c.startedAt = time.Now().UTC()
	c.lastErr = nil

	if unlock != nil {
		go c.refreshLock(ctx, cancel)
	}
	go func() {
		defer close(done)
		if unlock != nil {
			defer unlock()
		}
		if err := loop.Run(ctx); err != nil {
			c.setLastErr(err)
			c.logger.Error("loop exited with error", slog.String("error", err.Error()))
		}
	}()

	c.logger.Info("loop started")
	return nil
}

// prepare builds the loop and takes the loop lock when a locker is set.
func (c *Controller) prepare(creds domain.Credentials) (*Loop, func(), error) {
	loop, err := c.factory(context.Background(), creds)
	if err != nil {
		return nil, nil, err
	}
	if c.locker == nil {
		return loop, nil, nil
	}
	lctx, cancel := context.WithTimeout(context.Background(), lockAcquireTimeout)
	defer cancel()
	unlock, err := c.locker.Acquire(lctx, loopLockKey, c.lockTTL)
	if err != nil {
		return nil, nil, err
	}
	return loop, unlock, nil
}

func (c *Controller) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Stop requests the running loop to stop. It returns immediately; the loop
// finishes any in-flight call and exits at its next cancellation check. A
// Stop during Start makes that Start give up before the loop runs. Stop on
// an idle controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.starting {
		c.abortStart = true
		return
	}
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.logger.Info("loop stop requested")
}

// Wait blocks until the current loop has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked()
}

func (c *Controller) runningLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Status returns a snapshot of the controller and the last cycle.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Running: c.runningLocked(), Starting: c.starting, StartedAt: c.startedAt}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.loop != nil {
		st.Cycles = c.loop.Cycles()
		if recent := c.loop.RecentReports(1); len(recent) == 1 {
			st.Last = &recent[0]
			st.LastLine = recent[0].Line()
		}
	}
	return st
}

// RecentReports returns the last cycles of the current or previous loop.
func (c *Controller) RecentReports(limit int) []domain.CycleReport {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	if loop == nil {
		return []domain.CycleReport{}
	}
	return loop.RecentReports(limit)
}

// refreshLock extends the loop lock until ctx is cancelled. When the lock
// is reported lost, or no refresh has succeeded for a full TTL, the loop is
// stopped through stop so another process can take over the account.
func (c *Controller) refreshLock(ctx context.Context, stop context.CancelFunc) {
	ticker := time.NewTicker(c.lockTTL / 3)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
			err := c.locker.Refresh(rctx, loopLockKey, c.lockTTL)
			cancel()
			switch {
			case err == nil:
				lastOK = time.Now()
				continue
			case ctx.Err() != nil:
				return
			case errors.Is(err, domain.ErrNotFound), time.Since(lastOK) >= c.lockTTL:
				c.setLastErr(fmt.Errorf("engine: loop lock lost: %w", err))
				c.logger.Error("loop lock lost, stopping loop", slog.String("error", err.Error()))
				stop()
				return
			default:
				c.logger.Warn("loop lock refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
