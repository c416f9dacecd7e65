package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/vanshika/walletgate/internal/domain"
)

// WalletRecord is the file representation of a seeded wallet.
type WalletRecord struct {
	SellerID       string  `json:"sellerId"`
	SellerName     string  `json:"sellerName"`
	RiskRank       float64 `json:"riskRank"`
	IsInternal     bool    `json:"isInternal"`
	Status         string  `json:"status"`
	BlockageReason string  `json:"blockageReason,omitempty"`
}

// TransferRecord is the file representation of a transfer to replay.
type TransferRecord struct {
	FromSellerID string  `json:"fromSellerId"`
	ToSellerID   string  `json:"toSellerId"`
	Amount       float64 `json:"amount"`
	Score        float64 `json:"score"`
}

// Dataset contains the generated wallets and transfers.
type Dataset struct {
	Wallets   []WalletRecord   `json:"wallets"`
	Transfers []TransferRecord `json:"transfers"`
}

// Generator produces synthetic wallets and transfers for replay through the gate.
type Generator struct {
	cfg  Config
	rand *rand.Rand
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumWallets < 2 {
		cfg.NumWallets = def.NumWallets
	}
	if cfg.NumTransfers <= 0 {
		cfg.NumTransfers = def.NumTransfers
	}
	if cfg.MaxRiskRank <= 0 {
		cfg.MaxRiskRank = def.MaxRiskRank
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Generate synthesises wallets and transfers. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	wallets := make([]WalletRecord, g.cfg.NumWallets)
	for i := range wallets {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		w := WalletRecord{
			SellerID:   fmt.Sprintf("SLR-%06d", i+1),
			SellerName: g.randomName(),
			RiskRank:   round2(g.rand.Float64() * g.cfg.MaxRiskRank),
			IsInternal: g.rand.Float64() < g.cfg.InternalChance,
			Status:     string(domain.WalletActive),
		}
		if g.rand.Float64() < g.cfg.BlockedChance {
			w.Status = string(domain.WalletBlocked)
			w.BlockageReason = string(blockageReasons[g.rand.Intn(len(blockageReasons))])
		}
		wallets[i] = w
	}

	transfers := make([]TransferRecord, g.cfg.NumTransfers)
	for i := range transfers {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		from := g.rand.Intn(len(wallets))
		to := g.rand.Intn(len(wallets))
		if from == to {
			to = (to + 1) % len(wallets)
		}
		score := round2(g.rand.Float64() * 500)
		if g.rand.Float64() < g.cfg.HighScoreChance {
			score = round2(600 + g.rand.Float64()*400)
		}
		transfers[i] = TransferRecord{
			FromSellerID: wallets[from].SellerID,
			ToSellerID:   wallets[to].SellerID,
			Amount:       round2(g.rand.Float64()*4900 + 100),
			Score:        score,
		}
	}

	return Dataset{Wallets: wallets, Transfers: transfers}, nil
}

var blockageReasons = []domain.BlockageReason{
	domain.ReasonSentToBlockedWallet,
	domain.ReasonExceededRiskRankLimit,
	domain.ReasonInternalRankExceededThreshold,
	domain.ReasonExternalRankExceededThreshold,
}

var (
	nameHeads = []string{"North", "Blue", "Silver", "Cedar", "Harbor", "Summit", "Maple", "Iron", "Golden", "River"}
	nameTails = []string{"Traders", "Goods", "Supply", "Outfitters", "Market", "Imports", "Crafts", "Wholesale"}
)

func (g *Generator) randomName() string {
	return nameHeads[g.rand.Intn(len(nameHeads))] + " " + nameTails[g.rand.Intn(len(nameTails))]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
