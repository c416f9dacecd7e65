package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultResumeDelay    = time.Second
	DefaultMaxResumeDelay = 30 * time.Second
)

// ResumeConfig controls background re-application of writes left pending by
// a registry failure. MaxAttempts of zero retries until the gate is closed.
type ResumeConfig struct {
	Enabled     bool
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (c ResumeConfig) withDefaults() ResumeConfig {
	if c.Delay <= 0 {
		c.Delay = DefaultResumeDelay
	}
	if c.MaxDelay < c.Delay {
		c.MaxDelay = c.Delay
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

// resumer retries ResumePersistence with exponential backoff, one goroutine
// per failed outcome.
type resumer struct {
	gate   *Gate
	cfg    ResumeConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending int
	stopped bool
}

func newResumer(g *Gate, cfg ResumeConfig, logger *slog.Logger) *resumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &resumer{
		gate:   g,
		cfg:    cfg.withDefaults(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *resumer) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.Delay
	b.MaxInterval = r.cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var policy backoff.BackOff = b
	if r.cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(r.cfg.MaxAttempts))
	}
	return backoff.WithContext(policy, r.ctx)
}

// enqueue starts resuming out in the background. It returns false once the
// resumer is stopped.
func (r *resumer) enqueue(out Outcome) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.pending++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.pending--
			r.mu.Unlock()
		}()
		r.run(out)
	}()
	return true
}

func (r *resumer) run(out Outcome) {
	current := out
	attempt := 0
	operation := func() error {
		attempt++
		next, err := r.gate.ResumePersistence(r.ctx, current)
		current = next
		if errors.Is(err, ErrNothingToResume) {
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("resuming pending writes failed",
			"error", err,
			"decision", out.Decision,
			"seller", out.FromWallet.SellerID(),
			"pending", len(current.Pending),
			"attempt", attempt,
			"retryIn", wait.String(),
		)
	}

	// The first try waits one interval so an unavailable registry is not hit
	// again immediately.
	select {
	case <-r.ctx.Done():
		r.abandon(out, current, r.ctx.Err())
		return
	case <-time.After(r.cfg.Delay):
	}

	if err := backoff.RetryNotify(operation, r.newBackOff(), notify); err != nil {
		r.abandon(out, current, err)
	}
}

func (r *resumer) abandon(out, current Outcome, err error) {
	r.logger.Error("pending writes abandoned",
		"error", err,
		"decision", out.Decision,
		"seller", out.FromWallet.SellerID(),
		"pending", len(current.Pending),
	)
}

// Pending returns the number of outcomes still being resumed.
func (r *resumer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// stop cancels outstanding resumes and waits for their goroutines.
func (r *resumer) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
