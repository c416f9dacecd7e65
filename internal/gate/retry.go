package gate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vanshika/walletgate/internal/domain"
)

// DefaultRequeueDelay is the wait before a requeued request is delivered again.
const DefaultRequeueDelay = 5 * time.Second

// RetryConfig controls re-delivery of requeued requests. The zero value of
// MaxAttempts means no cap; Backoff doubles the delay per attempt up to MaxDelay.
type RetryConfig struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     bool
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Delay <= 0 {
		c.Delay = DefaultRequeueDelay
	}
	if c.MaxDelay < c.Delay {
		c.MaxDelay = c.Delay
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

// RetryScheduler delivers requeued requests again after a delay.
type RetryScheduler struct {
	cfg     RetryConfig
	deliver func(req domain.TransactionRequest, attempt int)
	logger  *slog.Logger

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool
}

// NewRetryScheduler builds a scheduler calling deliver for each re-delivery.
func NewRetryScheduler(cfg RetryConfig, logger *slog.Logger, deliver func(req domain.TransactionRequest, attempt int)) *RetryScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryScheduler{
		cfg:     cfg.withDefaults(),
		deliver: deliver,
		logger:  logger,
		timers:  make(map[uint64]*time.Timer),
	}
}

// Schedule arranges for req to be delivered again as attempt+1. It returns
// false when the attempt cap is reached or the scheduler was stopped.
func (s *RetryScheduler) Schedule(req domain.TransactionRequest, attempt int) bool {
	if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
		return false
	}
	delay := s.DelayFor(attempt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	id := s.nextID
	s.nextID++
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if !live {
			return
		}
		s.deliver(req, attempt+1)
	})
	s.logger.Debug("transfer requeued",
		"seller", req.FromWallet.SellerID(),
		"attempt", attempt,
		"delay", delay.String(),
	)
	return true
}

// DelayFor returns the wait applied after the given attempt.
func (s *RetryScheduler) DelayFor(attempt int) time.Duration {
	if !s.cfg.Backoff || attempt <= 1 {
		return s.cfg.Delay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Delay
	b.MaxInterval = s.cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := s.cfg.Delay
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Pending returns the number of scheduled re-deliveries.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every scheduled re-delivery and refuses new ones.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
