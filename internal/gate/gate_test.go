package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/risk"
)

type fakeRegistry struct {
	mu       sync.Mutex
	wallets  map[string]domain.Wallet
	txs      []domain.Transaction
	rankErr  error
	blockErr error
	txErr    error
	// rankHook runs before every ApplyRank, outside the registry mutex.
	rankHook func(cmd risk.RankCommand)
	// snapshotHook may replace the stored wallet on the n-th Snapshot call.
	snapshotHook func(call int, w domain.Wallet) domain.Wallet
	snapshots    int
}

func newFakeRegistry(wallets ...domain.Wallet) *fakeRegistry {
	r := &fakeRegistry{wallets: make(map[string]domain.Wallet)}
	for _, w := range wallets {
		r.wallets[w.SellerID()] = w
	}
	return r
}

func (r *fakeRegistry) Snapshot(_ context.Context, w domain.Wallet) domain.Wallet {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
	cur, ok := r.wallets[w.SellerID()]
	if !ok {
		cur = w
	}
	if r.snapshotHook != nil {
		cur = r.snapshotHook(r.snapshots, cur)
		r.wallets[cur.SellerID()] = cur
	}
	return cur
}

func (r *fakeRegistry) ApplyRank(_ context.Context, cmd risk.RankCommand) (domain.Wallet, error) {
	if r.rankHook != nil {
		r.rankHook(cmd)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rankErr != nil {
		return domain.Wallet{}, r.rankErr
	}
	w, ok := r.wallets[cmd.Wallet.SellerID()]
	if !ok {
		w = cmd.Wallet
	}
	w.RiskRank = cmd.Apply(w.RiskRank)
	r.wallets[w.SellerID()] = w
	return w, nil
}

func (r *fakeRegistry) BlockWallet(_ context.Context, w domain.Wallet, reason domain.BlockageReason) (domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blockErr != nil {
		return domain.Wallet{}, r.blockErr
	}
	if cur, ok := r.wallets[w.SellerID()]; ok {
		w = cur
	}
	w.Status = domain.WalletBlocked
	w.BlockageReason = reason
	r.wallets[w.SellerID()] = w
	return w, nil
}

func (r *fakeRegistry) RecordTransaction(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txErr != nil {
		return r.txErr
	}
	r.txs = append(r.txs, tx)
	return nil
}

func (r *fakeRegistry) wallet(id string) domain.Wallet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wallets[id]
}

func (r *fakeRegistry) set(w domain.Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.SellerID()] = w
}

func (r *fakeRegistry) transactions() []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Transaction(nil), r.txs...)
}

type countingIDs struct {
	n atomic.Int64
}

func (c *countingIDs) NewID() string {
	return fmt.Sprintf("TX-%d", c.n.Add(1))
}

func (c *countingIDs) minted() int {
	return int(c.n.Load())
}

func wallet(id string, rank float64, internal bool) domain.Wallet {
	return domain.Wallet{
		Seller:     domain.Seller{ID: id, Name: "seller " + id},
		Status:     domain.WalletActive,
		RiskRank:   rank,
		IsInternal: internal,
	}
}

func blocked(w domain.Wallet, reason domain.BlockageReason) domain.Wallet {
	w.Status = domain.WalletBlocked
	w.BlockageReason = reason
	return w
}

func newTestGate(t *testing.T, reg WalletRegistry, ids IDGenerator, retry RetryConfig, onOutcome func(Outcome, error)) *Gate {
	t.Helper()
	g, err := New(reg, Config{
		Policy:    risk.DefaultPolicy(),
		Retry:     retry,
		IDs:       ids,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnOutcome: onOutcome,
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestGate_ExternalEnqueueAccumulatesRank(t *testing.T) {
	from, to := wallet("S1", 50, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to, Amount: 10})
	require.NoError(t, err)

	assert.Equal(t, DecisionEnqueued, out.Decision)
	assert.Empty(t, out.Reason)
	assert.Equal(t, 90.0, out.Combined)
	assert.Equal(t, 90.0, out.FromWallet.RiskRank)
	assert.Equal(t, 90.0, reg.wallet("S1").RiskRank)
	assert.Equal(t, 40.0, reg.wallet("S2").RiskRank)
	require.NotNil(t, out.Transaction)
	assert.Equal(t, "TX-1", out.Transaction.ID)
	require.Len(t, reg.transactions(), 1)
	assert.Equal(t, []State{StatePending, StateValidate, StateEnqueue, StateUnlock, StatePending}, out.Trail)
	assert.Zero(t, g.InFlight())
}

func TestGate_ExternalBlockPenalisesSender(t *testing.T) {
	from, to := wallet("S1", 80, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.NoError(t, err)

	assert.Equal(t, DecisionBlocked, out.Decision)
	assert.Equal(t, domain.ReasonExternalRankExceededThreshold, out.Reason)
	assert.Equal(t, 88.0, reg.wallet("S1").RiskRank)
	assert.Equal(t, 40.0, reg.wallet("S2").RiskRank)
	assert.Empty(t, reg.transactions())
	assert.Equal(t, domain.WalletActive, reg.wallet("S1").Status, "a blocked transfer does not block the wallet")
	assert.Equal(t, []State{StatePending, StateValidate, StateBlock, StateUnlock, StatePending}, out.Trail)
}

func TestGate_InternalBlockPenalisesBoth(t *testing.T) {
	from, to := wallet("S1", 100, true), wallet("S2", 250, true)
	reg := newFakeRegistry(from, to)
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.NoError(t, err)

	assert.Equal(t, DecisionBlocked, out.Decision)
	assert.Equal(t, domain.ReasonInternalRankExceededThreshold, out.Reason)
	assert.Equal(t, 115.0, reg.wallet("S1").RiskRank)
	assert.Equal(t, 287.5, reg.wallet("S2").RiskRank)
	assert.Equal(t, 115.0, out.FromWallet.RiskRank)
	assert.Equal(t, 287.5, out.ToWallet.RiskRank)
}

func TestGate_InternalEnqueueKeepsRanks(t *testing.T) {
	from, to := wallet("S1", 100, true), wallet("S2", 150, true)
	reg := newFakeRegistry(from, to)
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.NoError(t, err)

	assert.Equal(t, DecisionEnqueued, out.Decision)
	assert.Equal(t, 100.0, reg.wallet("S1").RiskRank)
	assert.Equal(t, 150.0, reg.wallet("S2").RiskRank)
	assert.Len(t, reg.transactions(), 1)
}

func TestGate_BlockedReceiverBlocksSenderWithoutLock(t *testing.T) {
	from := wallet("S1", 0, false)
	to := blocked(wallet("S2", 0, false), domain.ReasonExceededRiskRankLimit)
	reg := newFakeRegistry(from, to)
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to, Score: 900})
	require.NoError(t, err)

	assert.Equal(t, DecisionSenderBlocked, out.Decision)
	assert.Equal(t, domain.ReasonSentToBlockedWallet, out.Reason)
	assert.Nil(t, out.Transaction)
	assert.Zero(t, ids.minted(), "no transaction id is minted without a slot")
	assert.Equal(t, []State{StatePending, StateBlockSender, StateUnlock, StatePending}, out.Trail)

	sender := reg.wallet("S1")
	assert.Equal(t, domain.WalletBlocked, sender.Status)
	assert.Equal(t, domain.ReasonSentToBlockedWallet, sender.BlockageReason)
	assert.Equal(t, domain.ReasonExceededRiskRankLimit, reg.wallet("S2").BlockageReason, "receiver is untouched")
}

func TestGate_ScoreAboveCeilingBlocksSender(t *testing.T) {
	from, to := wallet("S1", 0, false), wallet("S2", 0, false)
	reg := newFakeRegistry(from, to)
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to, Score: 601})
	require.NoError(t, err)

	assert.Equal(t, DecisionSenderBlocked, out.Decision)
	assert.Equal(t, domain.ReasonExceededRiskRankLimit, out.Reason)
	assert.Equal(t, domain.WalletBlocked, reg.wallet("S1").Status)
	assert.Zero(t, ids.minted())
}

func TestGate_BlockedSenderIsRejected(t *testing.T) {
	from := blocked(wallet("S1", 0, false), domain.ReasonExceededRiskRankLimit)
	to := wallet("S2", 0, false)
	reg := newFakeRegistry(from, to)
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: wallet("S1", 0, false), ToWallet: to})
	require.NoError(t, err)

	assert.Equal(t, DecisionRejected, out.Decision, "registry state wins over the caller's stale wallet")
	assert.Equal(t, domain.ReasonExceededRiskRankLimit, out.Reason)
	assert.Zero(t, ids.minted())
}

func TestGate_GuardsRunBeforeBlockedSenderCheck(t *testing.T) {
	tests := []struct {
		name   string
		to     domain.Wallet
		score  float64
		reason domain.BlockageReason
	}{
		{"blocked receiver", blocked(wallet("S2", 0, false), domain.ReasonInternalRankExceededThreshold), 0, domain.ReasonSentToBlockedWallet},
		{"score above ceiling", wallet("S2", 0, false), 700, domain.ReasonExceededRiskRankLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := blocked(wallet("S1", 0, false), domain.ReasonExternalRankExceededThreshold)
			reg := newFakeRegistry(from, tt.to)
			ids := &countingIDs{}
			g := newTestGate(t, reg, ids, RetryConfig{}, nil)

			out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: tt.to, Score: tt.score})
			require.NoError(t, err)

			assert.Equal(t, DecisionSenderBlocked, out.Decision)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, tt.reason, reg.wallet("S1").BlockageReason)
			assert.Equal(t, tt.to, reg.wallet("S2"), "receiver untouched")
			assert.Zero(t, ids.minted())
		})
	}
}

func TestGate_SenderBlockedBeforeSlotIsRejected(t *testing.T) {
	from, to := wallet("S1", 10, false), wallet("S2", 10, false)
	reg := newFakeRegistry(from, to)
	// Calls 1 and 2 are the guard snapshots; call 3 is the sender re-read
	// after the slot is taken.
	reg.snapshotHook = func(call int, w domain.Wallet) domain.Wallet {
		if call == 3 && w.SellerID() == "S1" {
			return blocked(w, domain.ReasonExceededRiskRankLimit)
		}
		return w
	}
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.NoError(t, err)

	assert.Equal(t, DecisionRejected, out.Decision)
	assert.Equal(t, domain.ReasonExceededRiskRankLimit, out.Reason)
	assert.Nil(t, out.Transaction)
	assert.Empty(t, reg.transactions())
	assert.Zero(t, ids.minted())
	assert.Equal(t, 10.0, reg.wallet("S1").RiskRank)
	assert.Equal(t, 10.0, reg.wallet("S2").RiskRank)
	assert.Zero(t, g.InFlight(), "slot is released")
}

func TestGate_SecondRequestFromSameSellerIsRequeued(t *testing.T) {
	from, to := wallet("S1", 10, false), wallet("S2", 10, false)
	reg := newFakeRegistry(from, to)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	reg.rankHook = func(risk.RankCommand) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	outcomes := make(chan Outcome, 16)
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{Delay: 20 * time.Millisecond}, func(out Outcome, err error) {
		assert.NoError(t, err)
		outcomes <- out
	})

	firstDone := make(chan Outcome, 1)
	go func() {
		out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
		assert.NoError(t, err)
		firstDone <- out
	}()
	<-entered

	assert.Equal(t, 1, g.InFlight())
	second, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequeued, second.Decision)
	assert.Nil(t, second.Transaction)
	assert.Equal(t, []State{StatePending, StateRequeue}, second.Trail)
	assert.Equal(t, 1, ids.minted(), "a requeued request gets no id")

	close(release)
	first := <-firstDone
	assert.Equal(t, DecisionEnqueued, first.Decision)

	var redelivered Outcome
	require.Eventually(t, func() bool {
		select {
		case out := <-outcomes:
			redelivered = out
			return out.Decision != DecisionRequeued
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, DecisionEnqueued, redelivered.Decision)
	assert.GreaterOrEqual(t, redelivered.Attempt, 2)
	assert.Equal(t, 30.0, reg.wallet("S1").RiskRank, "re-delivery evaluates against the updated rank")
	assert.Equal(t, 2, ids.minted())
	assert.Zero(t, g.InFlight())
}

func TestGate_RedeliveryHonoursInterimChanges(t *testing.T) {
	from, to := wallet("S1", 10, false), wallet("S2", 10, false)
	reg := newFakeRegistry(from, to)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	reg.rankHook = func(risk.RankCommand) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	outcomes := make(chan Outcome, 16)
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{Delay: 20 * time.Millisecond}, func(out Outcome, _ error) {
		outcomes <- out
	})

	go func() {
		_, _ = g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	}()
	<-entered

	second, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: wallet("S3", 0, false)})
	require.NoError(t, err)
	require.Equal(t, DecisionRequeued, second.Decision)

	reg.set(blocked(wallet("S3", 0, false), domain.ReasonExceededRiskRankLimit))
	close(release)

	var redelivered Outcome
	require.Eventually(t, func() bool {
		select {
		case out := <-outcomes:
			redelivered = out
			return out.Decision != DecisionRequeued
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, DecisionSenderBlocked, redelivered.Decision)
	assert.Equal(t, domain.ReasonSentToBlockedWallet, redelivered.Reason)
}

func TestGate_RequeueCapDropsRequest(t *testing.T) {
	from, to := wallet("S1", 10, false), wallet("S2", 10, false)
	reg := newFakeRegistry(from, to)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	reg.rankHook = func(risk.RankCommand) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{Delay: time.Hour, MaxAttempts: 1}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	}()
	<-entered

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.NoError(t, err)
	assert.Equal(t, DecisionDropped, out.Decision)
	assert.Zero(t, g.PendingRetries())

	close(release)
	<-done
}

func TestGate_PersistenceFailureReleasesLockAndResumes(t *testing.T) {
	from, to := wallet("S1", 80, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	reg.rankErr = errors.New("graph unavailable")
	ids := &countingIDs{}
	g := newTestGate(t, reg, ids, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailed)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, DecisionBlocked, perr.Decision)
	require.Len(t, out.Pending, 1)
	assert.Equal(t, WriteRank, out.Pending[0].Kind)

	assert.Equal(t, DecisionBlocked, out.Decision)
	assert.Zero(t, g.InFlight(), "slot is released even when the registry fails")
	assert.Equal(t, StatePending, out.Trail[len(out.Trail)-1])

	reg.mu.Lock()
	reg.rankErr = nil
	reg.mu.Unlock()

	resumed, err := g.ResumePersistence(context.Background(), out)
	require.NoError(t, err)
	assert.Empty(t, resumed.Pending)
	assert.Equal(t, DecisionBlocked, resumed.Decision)
	assert.Equal(t, 88.0, reg.wallet("S1").RiskRank)
	assert.Equal(t, 1, ids.minted(), "resuming does not evaluate again")

	_, err = g.ResumePersistence(context.Background(), resumed)
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestGate_TransactionRecordFailureKeepsRankWrite(t *testing.T) {
	from, to := wallet("S1", 50, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	reg.txErr = errors.New("write timeout")
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Equal(t, DecisionEnqueued, out.Decision)
	assert.Equal(t, 90.0, reg.wallet("S1").RiskRank)
	require.Len(t, out.Pending, 1)
	assert.Equal(t, WriteTransaction, out.Pending[0].Kind)

	reg.mu.Lock()
	reg.txErr = nil
	reg.mu.Unlock()

	_, err = g.ResumePersistence(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 90.0, reg.wallet("S1").RiskRank, "rank is not applied twice")
	require.Len(t, reg.transactions(), 1)
	assert.Equal(t, out.Transaction.ID, reg.transactions()[0].ID)
}

func TestGate_BlockSenderPersistenceFailure(t *testing.T) {
	from, to := wallet("S1", 0, false), wallet("S2", 0, false)
	reg := newFakeRegistry(from, to)
	reg.blockErr = errors.New("down")
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to, Score: 700})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Equal(t, DecisionSenderBlocked, out.Decision)
	require.Len(t, out.Pending, 1)
	assert.Equal(t, WriteBlock, out.Pending[0].Kind)
	assert.Zero(t, g.InFlight())
}

func TestGate_RejectsInvalidRequests(t *testing.T) {
	g := newTestGate(t, newFakeRegistry(), &countingIDs{}, RetryConfig{}, nil)

	cases := map[string]domain.TransactionRequest{
		"self transfer":   {FromWallet: wallet("S1", 0, false), ToWallet: wallet("S1", 0, false)},
		"negative amount": {FromWallet: wallet("S1", 0, false), ToWallet: wallet("S2", 0, false), Amount: -1},
		"negative rank":   {FromWallet: wallet("S1", -5, false), ToWallet: wallet("S2", 0, false)},
		"missing seller":  {FromWallet: domain.Wallet{Status: domain.WalletActive}, ToWallet: wallet("S2", 0, false)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.Submit(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, g.InFlight())
}

func TestGate_DifferentSellersRunConcurrently(t *testing.T) {
	receiver := wallet("R", 0, true)
	reg := newFakeRegistry(receiver)
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{Delay: time.Hour}, nil)

	var wg sync.WaitGroup
	results := make(chan Outcome, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := wallet(fmt.Sprintf("S%d", i), 1, false)
			out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: sender, ToWallet: receiver})
			assert.NoError(t, err)
			results <- out
		}(i)
	}
	wg.Wait()
	close(results)

	for out := range results {
		assert.Equal(t, DecisionEnqueued, out.Decision)
	}
	assert.Zero(t, g.InFlight())
	assert.Zero(t, g.PendingRetries())
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	p := risk.DefaultPolicy()
	p.SenderScoreCeiling = -1
	_, err := New(newFakeRegistry(), Config{Policy: p})
	assert.ErrorIs(t, err, risk.ErrInvalidPolicy)

	_, err = New(nil, Config{Policy: risk.DefaultPolicy()})
	assert.Error(t, err)
}

func TestGate_ResumesPendingWritesInBackground(t *testing.T) {
	from, to := wallet("S1", 80, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	reg.rankErr = errors.New("graph unavailable")

	g, err := New(reg, Config{
		Policy: risk.DefaultPolicy(),
		Resume: ResumeConfig{Enabled: true, Delay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		IDs:    &countingIDs{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.True(t, out.Resuming)
	require.Len(t, out.Pending, 1)
	assert.Equal(t, 1, g.PendingResumes())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 80.0, reg.wallet("S1").RiskRank)

	reg.mu.Lock()
	reg.rankErr = nil
	reg.mu.Unlock()

	require.Eventually(t, func() bool { return g.PendingResumes() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 88.0, reg.wallet("S1").RiskRank, "penalty applied exactly once")
}

func TestGate_CloseAbandonsBackgroundResumes(t *testing.T) {
	from, to := wallet("S1", 80, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	reg.rankErr = errors.New("graph unavailable")

	g, err := New(reg, Config{
		Policy: risk.DefaultPolicy(),
		Resume: ResumeConfig{Enabled: true, Delay: time.Hour},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.True(t, out.Resuming)

	g.Close()
	assert.Zero(t, g.PendingResumes())

	out, err = g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.False(t, out.Resuming, "a closed gate leaves pending writes to the caller")
}

func TestGate_WithoutResumerCallerOwnsPendingWrites(t *testing.T) {
	from, to := wallet("S1", 80, false), wallet("S2", 40, false)
	reg := newFakeRegistry(from, to)
	reg.rankErr = errors.New("graph unavailable")
	g := newTestGate(t, reg, &countingIDs{}, RetryConfig{}, nil)

	out, err := g.Submit(context.Background(), domain.TransactionRequest{FromWallet: from, ToWallet: to})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.False(t, out.Resuming)
	assert.Zero(t, g.PendingResumes())
}
