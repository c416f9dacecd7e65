package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/gate"
	"github.com/vanshika/walletgate/internal/registry"
	"github.com/vanshika/walletgate/internal/repository"
)

// WalletService is the registry surface used by the API.
type WalletService interface {
	Register(ctx context.Context, input registry.WalletInput) (domain.Wallet, error)
	Wallet(ctx context.Context, sellerID string) (domain.Wallet, error)
	List(ctx context.Context, opts repository.ListWalletsOptions) (repository.WalletListResult, error)
	History(ctx context.Context, sellerID string, limit int) ([]repository.TransactionRecord, error)
	Transactions(sellerID string) []string
}

// TransferGate screens submitted transfers.
type TransferGate interface {
	Submit(ctx context.Context, req domain.TransactionRequest) (gate.Outcome, error)
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger  *slog.Logger
	wallets WalletService
	gate    TransferGate
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, wallets WalletService, g TransferGate) *APIHandlers {
	return &APIHandlers{
		logger:  logger,
		wallets: wallets,
		gate:    g,
	}
}

func (h *APIHandlers) registerWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.wallets.Register(r.Context(), req.toInput())
	if err != nil {
		if errors.Is(err, registry.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to register wallet", "error", err, "sellerId", req.SellerID)
		writeError(w, http.StatusInternalServerError, "failed to register wallet")
		return
	}
	respondJSON(w, http.StatusCreated, newWalletResponse(wallet))
}

func (h *APIHandlers) listWallets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := repository.ListWalletsOptions{
		Limit:  parseInt(q.Get("limit"), 50),
		Offset: parseInt(q.Get("offset"), 0),
	}
	if status := strings.ToLower(strings.TrimSpace(q.Get("status"))); status != "" {
		opts.Status = domain.WalletStatus(status)
		if !opts.Status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be active or blocked")
			return
		}
	}
	if raw := q.Get("internal"); raw != "" {
		internal, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "internal must be a boolean")
			return
		}
		opts.Internal = &internal
	}

	res, err := h.wallets.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list wallets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list wallets")
		return
	}

	items := make([]walletResponse, 0, len(res.Items))
	for _, wallet := range res.Items {
		items = append(items, newWalletResponse(wallet))
	}
	respondJSON(w, http.StatusOK, walletListResponse{
		Items:  items,
		Total:  res.Total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (h *APIHandlers) getWallet(w http.ResponseWriter, r *http.Request) {
	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerId"))
	wallet, err := h.wallets.Wallet(r.Context(), sellerID)
	if err != nil {
		h.walletLookupError(w, err, sellerID)
		return
	}
	resp := newWalletResponse(wallet)
	resp.RecentTransactionIDs = h.wallets.Transactions(sellerID)
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) walletTransactions(w http.ResponseWriter, r *http.Request) {
	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerId"))
	records, err := h.wallets.History(r.Context(), sellerID, parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		h.walletLookupError(w, err, sellerID)
		return
	}
	items := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, transactionResponse{
			TransactionID: rec.ID,
			FromSellerID:  rec.FromSellerID,
			ToSellerID:    rec.ToSellerID,
			Amount:        rec.Amount,
			Score:         rec.Score,
			CreatedAt:     formatTime(rec.CreatedAt),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *APIHandlers) submitTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	from, err := h.wallets.Wallet(r.Context(), req.FromSellerID)
	if err != nil {
		h.walletLookupError(w, err, req.FromSellerID)
		return
	}
	to, err := h.wallets.Wallet(r.Context(), req.ToSellerID)
	if err != nil {
		h.walletLookupError(w, err, req.ToSellerID)
		return
	}

	out, err := h.gate.Submit(r.Context(), domain.TransactionRequest{
		FromWallet: from,
		ToWallet:   to,
		Amount:     req.Amount,
		Score:      req.Score,
	})
	switch {
	case errors.Is(err, gate.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, gate.ErrPersistenceFailed):
		h.logger.Error("transfer decision not persisted", "error", err, "from", req.FromSellerID, "decision", out.Decision)
		resp := newTransferResponse(out)
		resp.Error = "decision reached but not fully persisted"
		if out.Resuming {
			resp.Error += "; pending writes are being retried"
		}
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	case err != nil:
		h.logger.Error("failed to evaluate transfer", "error", err, "from", req.FromSellerID)
		writeError(w, http.StatusInternalServerError, "failed to evaluate transfer")
		return
	}

	status := http.StatusOK
	if out.Decision == gate.DecisionRequeued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, newTransferResponse(out))
}

func (h *APIHandlers) walletLookupError(w http.ResponseWriter, err error, sellerID string) {
	if errors.Is(err, registry.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found: "+sellerID)
		return
	}
	h.logger.Error("failed to load wallet", "error", err, "sellerId", sellerID)
	writeError(w, http.StatusInternalServerError, "failed to load wallet")
}

type walletRequest struct {
	SellerID       string  `json:"sellerId"`
	SellerName     string  `json:"sellerName"`
	RiskRank       float64 `json:"riskRank"`
	IsInternal     bool    `json:"isInternal"`
	Status         string  `json:"status"`
	BlockageReason string  `json:"blockageReason"`
}

func (req walletRequest) toInput() registry.WalletInput {
	return registry.WalletInput{
		SellerID:       req.SellerID,
		SellerName:     req.SellerName,
		RiskRank:       req.RiskRank,
		IsInternal:     req.IsInternal,
		Status:         req.Status,
		BlockageReason: req.BlockageReason,
	}
}

type walletResponse struct {
	SellerID             string   `json:"sellerId"`
	SellerName           string   `json:"sellerName,omitempty"`
	Status               string   `json:"status"`
	RiskRank             float64  `json:"riskRank"`
	IsInternal           bool     `json:"isInternal"`
	BlockageReason       string   `json:"blockageReason,omitempty"`
	UpdatedAt            string   `json:"updatedAt,omitempty"`
	RecentTransactionIDs []string `json:"recentTransactionIds,omitempty"`
}

func newWalletResponse(w domain.Wallet) walletResponse {
	return walletResponse{
		SellerID:       w.SellerID(),
		SellerName:     w.Seller.Name,
		Status:         string(w.Status),
		RiskRank:       w.RiskRank,
		IsInternal:     w.IsInternal,
		BlockageReason: string(w.BlockageReason),
		UpdatedAt:      formatTime(w.UpdatedAt),
	}
}

type walletListResponse struct {
	Items  []walletResponse `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type transactionResponse struct {
	TransactionID string  `json:"transactionId"`
	FromSellerID  string  `json:"fromSellerId"`
	ToSellerID    string  `json:"toSellerId"`
	Amount        float64 `json:"amount"`
	Score         float64 `json:"score"`
	CreatedAt     string  `json:"createdAt,omitempty"`
}

type transferRequest struct {
	FromSellerID string  `json:"fromSellerId"`
	ToSellerID   string  `json:"toSellerId"`
	Amount       float64 `json:"amount"`
	Score        float64 `json:"score"`
}

func (req *transferRequest) validate() error {
	req.FromSellerID = strings.TrimSpace(req.FromSellerID)
	req.ToSellerID = strings.TrimSpace(req.ToSellerID)
	if req.FromSellerID == "" || req.ToSellerID == "" {
		return errors.New("fromSellerId and toSellerId are required")
	}
	if req.Amount < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}

type transferResponse struct {
	Decision      string         `json:"decision"`
	Reason        string         `json:"reason,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Combined      float64        `json:"combinedRisk,omitempty"`
	Attempt       int            `json:"attempt"`
	From          walletResponse `json:"from"`
	To            walletResponse `json:"to"`
	Trail         []string       `json:"trail"`
	PendingWrites int            `json:"pendingWrites,omitempty"`
	Resuming      bool           `json:"resuming,omitempty"`
	Error         string         `json:"error,omitempty"`
}

func newTransferResponse(out gate.Outcome) transferResponse {
	resp := transferResponse{
		Decision:      string(out.Decision),
		Reason:        string(out.Reason),
		Combined:      out.Combined,
		Attempt:       out.Attempt,
		From:          newWalletResponse(out.FromWallet),
		To:            newWalletResponse(out.ToWallet),
		Trail:         make([]string, 0, len(out.Trail)),
		PendingWrites: len(out.Pending),
		Resuming:      out.Resuming,
	}
	if out.Transaction != nil {
		resp.TransactionID = out.Transaction.ID
	}
	for _, s := range out.Trail {
		resp.Trail = append(resp.Trail, string(s))
	}
	return resp
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
