package domain

import "time"

// TransactionRequest is a proposed transfer that has not been admitted yet.
// Score is the sender's pre-admission risk measure checked against the
// authorization ceiling; it is unrelated to the wallets' RiskRank.
type TransactionRequest struct {
	FromWallet Wallet
	ToWallet   Wallet
	Amount     float64
	Score      float64
}

// Transaction is a request that acquired its sender's slot. ID is assigned once.
type Transaction struct {
	ID string
	TransactionRequest
	CreatedAt time.Time
}
