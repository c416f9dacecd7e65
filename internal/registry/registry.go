// Package registry owns wallet state. Every rank, status and transaction write
// produced by the transfer gate goes through a Registry, which serialises the
// writes per wallet and persists them through a Store before updating its cache.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/repository"
	"github.com/vanshika/walletgate/internal/risk"
)

// ErrWalletNotFound is returned for sellers without a wallet.
var ErrWalletNotFound = errors.New("wallet not found")

// ErrInvalidInput is returned when a wallet registration is malformed.
var ErrInvalidInput = errors.New("invalid wallet input")

// Store persists wallets. *repository.Repository satisfies it.
type Store interface {
	UpsertWallet(ctx context.Context, w domain.Wallet) error
	FetchWallet(ctx context.Context, sellerID string) (domain.Wallet, error)
	ListWallets(ctx context.Context, opts repository.ListWalletsOptions) (repository.WalletListResult, error)
	ListTransactions(ctx context.Context, sellerID string, limit int) ([]repository.TransactionRecord, error)
	PersistRank(ctx context.Context, w domain.Wallet, rank float64) error
	PersistStatus(ctx context.Context, w domain.Wallet) error
	PersistTransaction(ctx context.Context, tx domain.Transaction) error
}

// WalletInput is the inbound payload for registering a wallet.
type WalletInput struct {
	SellerID       string
	SellerName     string
	RiskRank       float64
	IsInternal     bool
	Status         string
	BlockageReason string
}

type entry struct {
	mu     sync.Mutex
	wallet domain.Wallet
	txIDs  []string
}

// Registry is the single writer of wallet state.
type Registry struct {
	store  Store
	logger *slog.Logger
	nowFn  func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a Registry persisting through store.
func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger.With("component", "registry"),
		nowFn:   time.Now,
		entries: make(map[string]*entry),
	}
}

// Register creates or replaces a wallet.
func (r *Registry) Register(ctx context.Context, input WalletInput) (domain.Wallet, error) {
	w, err := normalizeWallet(input)
	if err != nil {
		return domain.Wallet{}, err
	}
	w.UpdatedAt = r.nowFn().UTC()

	e, created := r.entryFor(w.SellerID(), w)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.store.UpsertWallet(ctx, w); err != nil {
		if created {
			r.forget(w.SellerID(), e)
		}
		return domain.Wallet{}, fmt.Errorf("register wallet %s: %w", w.SellerID(), err)
	}
	e.wallet = w
	return w, nil
}

// Wallet returns the current state of a seller's wallet.
func (r *Registry) Wallet(ctx context.Context, sellerID string) (domain.Wallet, error) {
	e, err := r.lookup(ctx, sellerID)
	if err != nil {
		return domain.Wallet{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet, nil
}

// List pages through the persisted wallets.
func (r *Registry) List(ctx context.Context, opts repository.ListWalletsOptions) (repository.WalletListResult, error) {
	res, err := r.store.ListWallets(ctx, opts)
	if err != nil {
		return repository.WalletListResult{}, fmt.Errorf("list wallets: %w", err)
	}
	return res, nil
}

// Snapshot returns the registry's view of w, or w itself when the wallet is
// unknown or cannot be loaded.
func (r *Registry) Snapshot(ctx context.Context, w domain.Wallet) domain.Wallet {
	e, err := r.lookup(ctx, w.SellerID())
	if err != nil {
		if !errors.Is(err, ErrWalletNotFound) {
			r.logger.Warn("snapshot fell back to caller wallet", "seller_id", w.SellerID(), "error", err)
		}
		return w
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet
}

// ApplyRank resolves cmd against the wallet's current rank and persists the
// result. On failure the cached wallet is left unchanged.
func (r *Registry) ApplyRank(ctx context.Context, cmd risk.RankCommand) (domain.Wallet, error) {
	e, err := r.lookup(ctx, cmd.Wallet.SellerID())
	if err != nil {
		return cmd.Wallet, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.wallet
	next.RiskRank = cmd.Apply(e.wallet.RiskRank)
	next.UpdatedAt = r.nowFn().UTC()
	if err := r.store.PersistRank(ctx, next, next.RiskRank); err != nil {
		return e.wallet, fmt.Errorf("apply %s to %s: %w", cmd.Kind, next.SellerID(), err)
	}
	r.logger.Debug("risk rank updated",
		"seller_id", next.SellerID(),
		"kind", cmd.Kind,
		"from", e.wallet.RiskRank,
		"to", next.RiskRank,
	)
	e.wallet = next
	return next, nil
}

// BlockWallet marks the wallet blocked with reason.
func (r *Registry) BlockWallet(ctx context.Context, w domain.Wallet, reason domain.BlockageReason) (domain.Wallet, error) {
	if !reason.Valid() {
		return w, fmt.Errorf("block wallet %s: unknown reason %q", w.SellerID(), reason)
	}
	e, err := r.lookup(ctx, w.SellerID())
	if err != nil {
		return w, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.wallet
	next.Status = domain.WalletBlocked
	next.BlockageReason = reason
	next.UpdatedAt = r.nowFn().UTC()
	if err := r.store.PersistStatus(ctx, next); err != nil {
		return e.wallet, fmt.Errorf("block wallet %s: %w", next.SellerID(), err)
	}
	r.logger.Info("wallet blocked", "seller_id", next.SellerID(), "reason", reason)
	e.wallet = next
	return next, nil
}

// RecordTransaction persists an admitted transfer and appends it to the
// history of both wallets.
func (r *Registry) RecordTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := r.store.PersistTransaction(ctx, tx); err != nil {
		return fmt.Errorf("record transaction %s: %w", tx.ID, err)
	}
	for _, id := range []string{tx.FromWallet.SellerID(), tx.ToWallet.SellerID()} {
		e, err := r.lookup(ctx, id)
		if err != nil {
			continue
		}
		e.mu.Lock()
		e.txIDs = append(e.txIDs, tx.ID)
		e.mu.Unlock()
	}
	return nil
}

// Transactions returns the ids of transfers recorded for the seller by this
// process, oldest first.
func (r *Registry) Transactions(sellerID string) []string {
	r.mu.RLock()
	e, ok := r.entries[sellerID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.txIDs...)
}

// History returns the persisted transfers sent by the seller, newest first.
func (r *Registry) History(ctx context.Context, sellerID string, limit int) ([]repository.TransactionRecord, error) {
	if _, err := r.lookup(ctx, sellerID); err != nil {
		return nil, err
	}
	records, err := r.store.ListTransactions(ctx, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet history %s: %w", sellerID, err)
	}
	return records, nil
}

func (r *Registry) lookup(ctx context.Context, sellerID string) (*entry, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: empty seller id", ErrWalletNotFound)
	}
	r.mu.RLock()
	e, ok := r.entries[sellerID]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	w, err := r.store.FetchWallet(ctx, sellerID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, sellerID)
		}
		return nil, fmt.Errorf("load wallet %s: %w", sellerID, err)
	}
	e, _ = r.entryFor(sellerID, w)
	return e, nil
}

// entryFor returns the cached entry, creating it from seed when absent.
func (r *Registry) entryFor(sellerID string, seed domain.Wallet) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sellerID]; ok {
		return e, false
	}
	e := &entry{wallet: seed}
	r.entries[sellerID] = e
	return e, true
}

func (r *Registry) forget(sellerID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[sellerID] == e {
		delete(r.entries, sellerID)
	}
}

func normalizeWallet(input WalletInput) (domain.Wallet, error) {
	id := strings.TrimSpace(input.SellerID)
	if id == "" {
		return domain.Wallet{}, fmt.Errorf("%w: seller id is required", ErrInvalidInput)
	}
	status := domain.WalletStatus(strings.ToLower(strings.TrimSpace(input.Status)))
	if status == "" {
		status = domain.WalletActive
	}
	w := domain.Wallet{
		Seller:         domain.Seller{ID: id, Name: strings.TrimSpace(input.SellerName)},
		Status:         status,
		RiskRank:       input.RiskRank,
		IsInternal:     input.IsInternal,
		BlockageReason: domain.BlockageReason(strings.ToUpper(strings.TrimSpace(input.BlockageReason))),
	}
	if err := w.Validate(); err != nil {
		return domain.Wallet{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return w, nil
}
