package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/graph"
)

// ErrWalletNotFound is returned when no wallet node exists for a seller.
var ErrWalletNotFound = errors.New("wallet not found")

// ListWalletsOptions defines filters and pagination for wallet listing.
type ListWalletsOptions struct {
	Offset   int
	Limit    int
	Status   domain.WalletStatus
	Internal *bool
}

// WalletListResult captures a page of wallets.
type WalletListResult struct {
	Items []domain.Wallet
	Total int64
}

// TransactionRecord is an admitted transfer as stored on the SENT edge.
type TransactionRecord struct {
	ID           string
	FromSellerID string
	ToSellerID   string
	Amount       float64
	Score        float64
	CreatedAt    time.Time
}

// Repository persists wallets and admitted transactions in the graph.
type Repository struct {
	client graph.Client
	nowFn  func() time.Time
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client, nowFn: time.Now}
}

// UpsertWallet creates or replaces the wallet node of a seller.
func (r *Repository) UpsertWallet(ctx context.Context, w domain.Wallet) error {
	if w.SellerID() == "" {
		return errors.New("seller id is required")
	}

	params := map[string]any{
		"sellerId": w.SellerID(),
		"props":    walletProperties(w, r.nowFn()),
	}
	if _, err := r.client.ExecuteWrite(ctx, upsertWalletCypher, params); err != nil {
		return fmt.Errorf("upsert wallet %s: %w", w.SellerID(), err)
	}
	return nil
}

// PersistRank stores a new risk rank for the wallet.
func (r *Repository) PersistRank(ctx context.Context, w domain.Wallet, rank float64) error {
	if rank < 0 {
		return fmt.Errorf("persist rank %s: rank %v is negative", w.SellerID(), rank)
	}
	params := map[string]any{
		"sellerId":  w.SellerID(),
		"riskRank":  rank,
		"updatedAt": formatTime(r.nowFn()),
	}
	res, err := r.client.ExecuteWrite(ctx, persistRankCypher, params)
	if err != nil {
		return fmt.Errorf("persist rank %s: %w", w.SellerID(), err)
	}
	if res.First() == nil {
		return fmt.Errorf("persist rank %s: %w", w.SellerID(), ErrWalletNotFound)
	}
	return nil
}

// PersistStatus stores the wallet's status and blockage reason.
func (r *Repository) PersistStatus(ctx context.Context, w domain.Wallet) error {
	params := map[string]any{
		"sellerId":       w.SellerID(),
		"status":         string(w.Status),
		"blockageReason": string(w.BlockageReason),
		"updatedAt":      formatTime(r.nowFn()),
	}
	res, err := r.client.ExecuteWrite(ctx, persistStatusCypher, params)
	if err != nil {
		return fmt.Errorf("persist status %s: %w", w.SellerID(), err)
	}
	if res.First() == nil {
		return fmt.Errorf("persist status %s: %w", w.SellerID(), ErrWalletNotFound)
	}
	return nil
}

// PersistTransaction records an admitted transfer as a SENT edge between wallets.
func (r *Repository) PersistTransaction(ctx context.Context, tx domain.Transaction) error {
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}
	params := map[string]any{
		"transactionId": tx.ID,
		"fromId":        tx.FromWallet.SellerID(),
		"toId":          tx.ToWallet.SellerID(),
		"amount":        tx.Amount,
		"score":         tx.Score,
		"createdAt":     formatTime(tx.CreatedAt),
	}
	res, err := r.client.ExecuteWrite(ctx, persistTransactionCypher, params)
	if err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	if res.First() == nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, ErrWalletNotFound)
	}
	return nil
}

// FetchWallet loads a seller's wallet.
func (r *Repository) FetchWallet(ctx context.Context, sellerID string) (domain.Wallet, error) {
	res, err := r.client.ExecuteRead(ctx, fetchWalletCypher, map[string]any{"sellerId": sellerID})
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("fetch wallet %s: %w", sellerID, err)
	}
	rec := res.First()
	if rec == nil {
		return domain.Wallet{}, fmt.Errorf("fetch wallet %s: %w", sellerID, ErrWalletNotFound)
	}
	return walletFromRecord(rec), nil
}

// ListWallets returns a page of wallets matching the filters.
func (r *Repository) ListWallets(ctx context.Context, opts ListWalletsOptions) (WalletListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	params := map[string]any{
		"status":      string(opts.Status),
		"filterScope": opts.Internal != nil,
		"internal":    opts.Internal != nil && *opts.Internal,
		"skip":        offset,
		"limit":       limit,
	}

	res, err := r.client.ExecuteRead(ctx, fmt.Sprintf(listWalletsCypherTemplate, walletFilterClause), params)
	if err != nil {
		return WalletListResult{}, fmt.Errorf("list wallets query: %w", err)
	}
	items := make([]domain.Wallet, 0, len(res.Records))
	for _, rec := range res.Records {
		items = append(items, walletFromRecord(rec))
	}

	countRes, err := r.client.ExecuteRead(ctx, fmt.Sprintf(countWalletsCypherTemplate, walletFilterClause), params)
	if err != nil {
		return WalletListResult{}, fmt.Errorf("count wallets query: %w", err)
	}
	var total int64
	if rec := countRes.First(); rec != nil {
		total = toInt64(rec["total"])
	}

	return WalletListResult{Items: items, Total: total}, nil
}

// ListTransactions returns the most recent transfers sent by a seller.
func (r *Repository) ListTransactions(ctx context.Context, sellerID string, limit int) ([]TransactionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	res, err := r.client.ExecuteRead(ctx, listTransactionsCypher, map[string]any{
		"sellerId": sellerID,
		"limit":    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", sellerID, err)
	}
	records := make([]TransactionRecord, 0, len(res.Records))
	for _, rec := range res.Records {
		item := TransactionRecord{
			ID:           toString(rec["transactionId"]),
			FromSellerID: toString(rec["fromId"]),
			ToSellerID:   toString(rec["toId"]),
			Amount:       toFloat64(rec["amount"]),
			Score:        toFloat64(rec["score"]),
		}
		if created := toTimePtr(rec["createdAt"]); created != nil {
			item.CreatedAt = *created
		}
		records = append(records, item)
	}
	return records, nil
}

func walletProperties(w domain.Wallet, now time.Time) map[string]any {
	return map[string]any{
		"sellerName":     w.Seller.Name,
		"status":         string(w.Status),
		"riskRank":       w.RiskRank,
		"isInternal":     w.IsInternal,
		"blockageReason": string(w.BlockageReason),
		"updatedAt":      formatTime(now),
	}
}

func walletFromRecord(rec graph.Record) domain.Wallet {
	w := domain.Wallet{
		Seller: domain.Seller{
			ID:   toString(rec["sellerId"]),
			Name: toString(rec["sellerName"]),
		},
		Status:         domain.WalletStatus(toString(rec["status"])),
		RiskRank:       toFloat64(rec["riskRank"]),
		IsInternal:     toBool(rec["isInternal"]),
		BlockageReason: domain.BlockageReason(toString(rec["blockageReason"])),
	}
	if w.Status == "" {
		w.Status = domain.WalletActive
	}
	if updated := toTimePtr(rec["updatedAt"]); updated != nil {
		w.UpdatedAt = *updated
	}
	return w
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toBool(val any) bool {
	b, _ := val.(bool)
	return b
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
	}
	return nil
}

const upsertWalletCypher = `
MERGE (s:Seller {sellerId: $sellerId})
MERGE (s)-[:OWNS]->(w:Wallet {sellerId: $sellerId})
SET w += $props,
    s.sellerName = $props.sellerName
RETURN w.sellerId AS sellerId
`

const persistRankCypher = `
MATCH (w:Wallet {sellerId: $sellerId})
SET w.riskRank = $riskRank,
    w.updatedAt = $updatedAt
RETURN w.sellerId AS sellerId
`

const persistStatusCypher = `
MATCH (w:Wallet {sellerId: $sellerId})
SET w.status = $status,
    w.blockageReason = $blockageReason,
    w.updatedAt = $updatedAt
RETURN w.sellerId AS sellerId
`

const persistTransactionCypher = `
MATCH (from:Wallet {sellerId: $fromId})
MATCH (to:Wallet {sellerId: $toId})
MERGE (from)-[t:SENT {transactionId: $transactionId}]->(to)
SET t.amount = $amount,
    t.score = $score,
    t.createdAt = $createdAt
RETURN t.transactionId AS transactionId
`

const fetchWalletCypher = `
MATCH (w:Wallet {sellerId: $sellerId})
RETURN w.sellerId AS sellerId,
       w.sellerName AS sellerName,
       w.status AS status,
       w.riskRank AS riskRank,
       w.isInternal AS isInternal,
       w.blockageReason AS blockageReason,
       w.updatedAt AS updatedAt
`

const walletFilterClause = `
WHERE ($status = "" OR w.status = $status)
  AND (NOT $filterScope OR w.isInternal = $internal)
`

const listWalletsCypherTemplate = `
MATCH (w:Wallet)
%s
RETURN w.sellerId AS sellerId,
       w.sellerName AS sellerName,
       w.status AS status,
       w.riskRank AS riskRank,
       w.isInternal AS isInternal,
       w.blockageReason AS blockageReason,
       w.updatedAt AS updatedAt
ORDER BY w.sellerId ASC
SKIP $skip
LIMIT $limit
`

const countWalletsCypherTemplate = `
MATCH (w:Wallet)
%s
RETURN count(w) AS total
`

const listTransactionsCypher = `
MATCH (from:Wallet {sellerId: $sellerId})-[t:SENT]->(to:Wallet)
RETURN t.transactionId AS transactionId,
       from.sellerId AS fromId,
       to.sellerId AS toId,
       t.amount AS amount,
       t.score AS score,
       t.createdAt AS createdAt
ORDER BY t.createdAt DESC
LIMIT $limit
`
