// Package gate screens wallet-to-wallet transfers. Each request walks an
// explicit state machine to one terminal decision: the receiver and sender
// guards may block the sender, a busy sender is requeued, and an admitted
// transfer is either enqueued or blocked by the risk policy.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/risk"
)

// Decision is the terminal result of one evaluation.
type Decision string

const (
	DecisionEnqueued      Decision = "ENQUEUED"
	DecisionBlocked       Decision = "BLOCKED"
	DecisionSenderBlocked Decision = "SENDER_BLOCKED"
	DecisionRequeued      Decision = "REQUEUED"
	// DecisionDropped is a requeue that will not be delivered again.
	DecisionDropped Decision = "DROPPED"
	// DecisionRejected is returned for senders that are already blocked.
	DecisionRejected Decision = "REJECTED"
)

// WalletRegistry owns wallet state. All writes coming out of the gate go through it.
type WalletRegistry interface {
	// Snapshot returns the registry's current view of w, or w when unknown.
	Snapshot(ctx context.Context, w domain.Wallet) domain.Wallet
	ApplyRank(ctx context.Context, cmd risk.RankCommand) (domain.Wallet, error)
	BlockWallet(ctx context.Context, w domain.Wallet, reason domain.BlockageReason) (domain.Wallet, error)
	RecordTransaction(ctx context.Context, tx domain.Transaction) error
}

// IDGenerator mints transaction ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator mints random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Recorder receives gate metrics.
type Recorder interface {
	ObserveDecision(decision Decision, reason domain.BlockageReason, elapsed time.Duration)
	ObserveRequeue(attempt int, dropped bool)
	ObservePersistenceFailure(decision Decision)
	SetInFlight(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(Decision, domain.BlockageReason, time.Duration) {}
func (nopRecorder) ObserveRequeue(int, bool)                                       {}
func (nopRecorder) ObservePersistenceFailure(Decision)                             {}
func (nopRecorder) SetInFlight(int)                                                {}

// WriteKind identifies a registry write.
type WriteKind string

const (
	WriteRank        WriteKind = "rank"
	WriteBlock       WriteKind = "block"
	WriteTransaction WriteKind = "transaction"
)

// Write is one registry update emitted by a decision.
type Write struct {
	Kind        WriteKind
	Rank        risk.RankCommand
	Wallet      domain.Wallet
	Reason      domain.BlockageReason
	Transaction domain.Transaction
}

// Outcome describes what happened to a request.
type Outcome struct {
	Decision    Decision
	Reason      domain.BlockageReason
	Transaction *domain.Transaction
	Request     domain.TransactionRequest
	FromWallet  domain.Wallet
	ToWallet    domain.Wallet
	Combined    float64
	Attempt     int
	Trail       []State
	Pending     []Write
	// Resuming is set when the pending writes were handed to the background
	// resumer. The caller must not resume them again.
	Resuming    bool
}

// Config configures a Gate.
type Config struct {
	Policy   risk.Policy
	Retry    RetryConfig
	Resume   ResumeConfig
	IDs      IDGenerator
	Recorder Recorder
	Logger   *slog.Logger
	// OnOutcome receives the results of re-delivered requests.
	OnOutcome func(Outcome, error)
	Now       func() time.Time
}

// Gate is the transaction admission state machine.
type Gate struct {
	policy    risk.Policy
	registry  WalletRegistry
	locks     *SellerLockTable
	retry     *RetryScheduler
	ids       IDGenerator
	recorder  Recorder
	logger    *slog.Logger
	onOutcome func(Outcome, error)
	nowFn     func() time.Time
	resumer   *resumer
}

// New builds a Gate around the registry.
func New(registry WalletRegistry, cfg Config) (*Gate, error) {
	if registry == nil {
		return nil, fmt.Errorf("wallet registry is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDGenerator{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	g := &Gate{
		policy:    cfg.Policy,
		registry:  registry,
		locks:     NewSellerLockTable(),
		ids:       cfg.IDs,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		onOutcome: cfg.OnOutcome,
		nowFn:     cfg.Now,
	}
	g.retry = NewRetryScheduler(cfg.Retry, cfg.Logger, g.redeliver)
	if cfg.Resume.Enabled {
		g.resumer = newResumer(g, cfg.Resume, cfg.Logger)
	}
	return g, nil
}

// Submit evaluates a TransactionRequested event and returns its outcome. A
// requeued request is delivered again later; its result goes to OnOutcome.
func (g *Gate) Submit(ctx context.Context, req domain.TransactionRequest) (Outcome, error) {
	out, err := g.process(ctx, req, 1)
	return g.handOff(out, err), err
}

// InFlight returns the number of sellers holding a slot.
func (g *Gate) InFlight() int {
	return g.locks.Len()
}

// PendingRetries returns the number of requests waiting for re-delivery.
func (g *Gate) PendingRetries() int {
	return g.retry.Pending()
}

// Close drops all scheduled re-deliveries and stops resuming pending writes.
func (g *Gate) Close() {
	g.retry.Stop()
	if g.resumer != nil {
		g.resumer.stop()
	}
}

// PendingResumes returns the number of outcomes whose writes are still being
// retried in the background.
func (g *Gate) PendingResumes() int {
	if g.resumer == nil {
		return 0
	}
	return g.resumer.Pending()
}

// handOff passes a persistence failure to the background resumer when one is
// configured.
func (g *Gate) handOff(out Outcome, err error) Outcome {
	if g.resumer == nil || len(out.Pending) == 0 || !errors.Is(err, ErrPersistenceFailed) {
		return out
	}
	if g.resumer.enqueue(out) {
		out.Resuming = true
	}
	return out
}

// ResumePersistence applies the writes left pending by a PersistenceFailed
// outcome. The decision itself is not evaluated again. Outcomes marked
// Resuming are already owned by the background resumer.
func (g *Gate) ResumePersistence(ctx context.Context, out Outcome) (Outcome, error) {
	if len(out.Pending) == 0 {
		return out, ErrNothingToResume
	}
	writes := out.Pending
	out.Pending = nil
	if err := g.apply(ctx, &out, writes); err != nil {
		g.recorder.ObservePersistenceFailure(out.Decision)
		return out, err
	}
	g.logger.Info("pending writes applied", "decision", out.Decision, "seller", out.FromWallet.SellerID())
	return out, nil
}

func (g *Gate) process(ctx context.Context, req domain.TransactionRequest, attempt int) (Outcome, error) {
	if err := validateRequest(req); err != nil {
		return Outcome{}, err
	}
	start := g.nowFn()

	req.FromWallet = g.registry.Snapshot(ctx, req.FromWallet)
	req.ToWallet = g.registry.Snapshot(ctx, req.ToWallet)

	m := newMachine()
	out := Outcome{
		Request:    req,
		FromWallet: req.FromWallet,
		ToWallet:   req.ToWallet,
		Attempt:    attempt,
	}

	if reason, ok := g.policy.Authorize(req); !ok {
		return g.blockSender(ctx, m, out, reason, start)
	}
	if req.FromWallet.Blocked() {
		return g.reject(m, out, start), nil
	}

	sellerID := req.FromWallet.SellerID()
	if !g.locks.TryAcquire(sellerID) {
		m.mustTo(StateRequeue)
		out.Trail = m.trail
		out.Decision = DecisionRequeued
		scheduled := g.retry.Schedule(req, attempt)
		if !scheduled {
			out.Decision = DecisionDropped
		}
		g.recorder.ObserveRequeue(attempt, !scheduled)
		g.finish(out, start)
		return out, nil
	}
	g.recorder.SetInFlight(g.locks.Len())

	return g.admit(ctx, m, out, start)
}

func (g *Gate) blockSender(ctx context.Context, m *machine, out Outcome, reason domain.BlockageReason, start time.Time) (Outcome, error) {
	m.mustTo(StateBlockSender)
	out.Decision = DecisionSenderBlocked
	out.Reason = reason

	err := g.apply(ctx, &out, []Write{{Kind: WriteBlock, Wallet: out.FromWallet, Reason: reason}})

	// No slot was taken on this path; the unlock is a no-op release.
	m.mustTo(StateUnlock)
	m.mustTo(StatePending)
	out.Trail = m.trail
	if err != nil {
		g.recorder.ObservePersistenceFailure(out.Decision)
	}
	g.finish(out, start)
	return out, err
}

// reject ends a request whose sender is already blocked. Nothing is written.
func (g *Gate) reject(m *machine, out Outcome, start time.Time) Outcome {
	out.Decision = DecisionRejected
	out.Reason = out.FromWallet.BlockageReason
	out.Trail = m.trail
	g.finish(out, start)
	return out
}

func (g *Gate) admit(ctx context.Context, m *machine, out Outcome, start time.Time) (Outcome, error) {
	sellerID := out.FromWallet.SellerID()
	defer func() {
		g.locks.Release(sellerID)
		g.recorder.SetInFlight(g.locks.Len())
	}()

	// Re-read under the slot; a previous transfer of this seller may have
	// finished between the first snapshot and the acquire.
	out.Request.FromWallet = g.registry.Snapshot(ctx, out.Request.FromWallet)
	out.Request.ToWallet = g.registry.Snapshot(ctx, out.Request.ToWallet)
	out.FromWallet = out.Request.FromWallet
	out.ToWallet = out.Request.ToWallet
	if out.FromWallet.Blocked() {
		return g.reject(m, out, start), nil
	}

	tx := domain.Transaction{
		ID:                 g.ids.NewID(),
		TransactionRequest: out.Request,
		CreatedAt:          g.nowFn().UTC(),
	}
	out.Transaction = &tx
	m.mustTo(StateValidate)

	ev := g.policy.Evaluate(out.FromWallet, out.ToWallet)
	out.Combined = ev.Combined
	out.Reason = ev.Reason

	writes := make([]Write, 0, len(ev.Commands)+1)
	for _, cmd := range ev.Commands {
		writes = append(writes, Write{Kind: WriteRank, Rank: cmd})
	}
	switch ev.Verdict {
	case risk.VerdictEnqueue:
		m.mustTo(StateEnqueue)
		out.Decision = DecisionEnqueued
		writes = append(writes, Write{Kind: WriteTransaction, Transaction: tx})
	default:
		m.mustTo(StateBlock)
		out.Decision = DecisionBlocked
	}

	err := g.apply(ctx, &out, writes)

	m.mustTo(StateUnlock)
	m.mustTo(StatePending)
	out.Trail = m.trail
	if err != nil {
		g.recorder.ObservePersistenceFailure(out.Decision)
	}
	g.finish(out, start)
	return out, err
}

// apply runs writes in order. On failure the unapplied writes, including the
// failing one, are stored in out.Pending.
func (g *Gate) apply(ctx context.Context, out *Outcome, writes []Write) error {
	for i, w := range writes {
		var err error
		switch w.Kind {
		case WriteRank:
			var updated domain.Wallet
			updated, err = g.registry.ApplyRank(ctx, w.Rank)
			if err == nil {
				out.setWallet(updated)
			}
		case WriteBlock:
			var updated domain.Wallet
			updated, err = g.registry.BlockWallet(ctx, w.Wallet, w.Reason)
			if err == nil {
				out.setWallet(updated)
			}
		case WriteTransaction:
			err = g.registry.RecordTransaction(ctx, w.Transaction)
		default:
			err = fmt.Errorf("unknown write kind %q", w.Kind)
		}
		if err != nil {
			out.Pending = append([]Write(nil), writes[i:]...)
			return &PersistenceError{Decision: out.Decision, Pending: out.Pending, Err: err}
		}
	}
	return nil
}

func (o *Outcome) setWallet(w domain.Wallet) {
	if w.SellerID() == o.FromWallet.SellerID() {
		o.FromWallet = w
	}
	if w.SellerID() == o.ToWallet.SellerID() {
		o.ToWallet = w
	}
}

func (g *Gate) finish(out Outcome, start time.Time) {
	g.recorder.ObserveDecision(out.Decision, out.Reason, g.nowFn().Sub(start))
	attrs := []any{
		"decision", out.Decision,
		"from", out.FromWallet.SellerID(),
		"to", out.ToWallet.SellerID(),
		"attempt", out.Attempt,
	}
	if out.Reason != "" {
		attrs = append(attrs, "reason", out.Reason)
	}
	if out.Transaction != nil {
		attrs = append(attrs, "transactionId", out.Transaction.ID)
	}
	g.logger.Info("transfer evaluated", attrs...)
}

func (g *Gate) redeliver(req domain.TransactionRequest, attempt int) {
	out, err := g.process(context.Background(), req, attempt)
	out = g.handOff(out, err)
	if err != nil {
		g.logger.Error("redelivered transfer failed", "error", err, "from", req.FromWallet.SellerID(), "attempt", attempt)
	}
	if g.onOutcome != nil {
		g.onOutcome(out, err)
	}
}

func validateRequest(req domain.TransactionRequest) error {
	if err := req.FromWallet.Validate(); err != nil {
		return fmt.Errorf("%w: from wallet: %v", ErrInvalidRequest, err)
	}
	if err := req.ToWallet.Validate(); err != nil {
		return fmt.Errorf("%w: to wallet: %v", ErrInvalidRequest, err)
	}
	if req.FromWallet.SellerID() == req.ToWallet.SellerID() {
		return fmt.Errorf("%w: sender and receiver are the same seller %s", ErrInvalidRequest, req.FromWallet.SellerID())
	}
	if req.Amount < 0 {
		return fmt.Errorf("%w: amount %v is negative", ErrInvalidRequest, req.Amount)
	}
	return nil
}
