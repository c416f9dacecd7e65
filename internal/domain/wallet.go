package domain

import (
	"errors"
	"fmt"
	"time"
)

// WalletStatus describes whether a wallet may originate or receive transfers.
type WalletStatus string

const (
	WalletActive  WalletStatus = "active"
	WalletBlocked WalletStatus = "blocked"
)

// Valid reports whether the status is one of the known values.
func (s WalletStatus) Valid() bool {
	return s == WalletActive || s == WalletBlocked
}

// BlockageReason records why a wallet or a transfer was blocked.
type BlockageReason string

const (
	ReasonSentToBlockedWallet           BlockageReason = "SENT_TO_BLOCKED_WALLET"
	ReasonExceededRiskRankLimit         BlockageReason = "EXCEEDED_RISK_RANK_LIMIT"
	ReasonInternalRankExceededThreshold BlockageReason = "INTERNAL_RANK_EXCEEDED_THRESHOLD"
	ReasonExternalRankExceededThreshold BlockageReason = "EXTERNAL_RANK_EXCEEDED_THRESHOLD"
)

// Valid reports whether the reason belongs to the closed set above.
func (r BlockageReason) Valid() bool {
	switch r {
	case ReasonSentToBlockedWallet,
		ReasonExceededRiskRankLimit,
		ReasonInternalRankExceededThreshold,
		ReasonExternalRankExceededThreshold:
		return true
	default:
		return false
	}
}

// Seller is the party owning a wallet. Its ID is the concurrency key for transfers.
type Seller struct {
	ID   string
	Name string
}

// Wallet holds the risk state of a seller.
type Wallet struct {
	Seller         Seller
	Status         WalletStatus
	RiskRank       float64
	IsInternal     bool
	BlockageReason BlockageReason
	UpdatedAt      time.Time
}

// ErrInvalidWallet is returned by Validate for malformed wallets.
var ErrInvalidWallet = errors.New("invalid wallet")

// SellerID is shorthand for w.Seller.ID.
func (w Wallet) SellerID() string {
	return w.Seller.ID
}

// Blocked reports whether the wallet is blocked.
func (w Wallet) Blocked() bool {
	return w.Status == WalletBlocked
}

// Active reports whether the wallet is active.
func (w Wallet) Active() bool {
	return w.Status == WalletActive
}

// Validate checks the wallet fields: a known status, a non-negative rank and a
// blockage reason on every blocked wallet.
func (w Wallet) Validate() error {
	if w.Seller.ID == "" {
		return fmt.Errorf("%w: seller id is required", ErrInvalidWallet)
	}
	if !w.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidWallet, w.Status)
	}
	if w.RiskRank < 0 {
		return fmt.Errorf("%w: risk rank %v is negative", ErrInvalidWallet, w.RiskRank)
	}
	if w.Blocked() && !w.BlockageReason.Valid() {
		return fmt.Errorf("%w: blocked wallet %s has no blockage reason", ErrInvalidWallet, w.Seller.ID)
	}
	if w.BlockageReason != "" && !w.BlockageReason.Valid() {
		return fmt.Errorf("%w: unknown blockage reason %q", ErrInvalidWallet, w.BlockageReason)
	}
	return nil
}
