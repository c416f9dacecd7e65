package risk

import "github.com/vanshika/walletgate/internal/domain"

// Verdict is the result of screening an admitted transfer.
type Verdict string

const (
	VerdictEnqueue Verdict = "ENQUEUE"
	VerdictBlock   Verdict = "BLOCK"
)

// CommandKind selects how a RankCommand changes a rank.
type CommandKind string

const (
	// CommandAdd adds Amount to the current rank.
	CommandAdd CommandKind = "add"
	// CommandPenalty raises the current rank by Amount percent.
	CommandPenalty CommandKind = "penalty"
)

// RankCommand is an update for one wallet's rank. It is resolved against the
// wallet's current rank by whoever owns the wallet, not against the snapshot
// it was computed from.
type RankCommand struct {
	Wallet domain.Wallet
	Kind   CommandKind
	Amount float64
}

// Apply returns the rank obtained by applying the command to rank.
func (c RankCommand) Apply(rank float64) float64 {
	switch c.Kind {
	case CommandAdd:
		return rank + c.Amount
	case CommandPenalty:
		return PercentageIncrement(rank, c.Amount)
	default:
		return rank
	}
}

// Evaluation describes what should happen to an admitted transfer.
type Evaluation struct {
	Verdict  Verdict
	Reason   domain.BlockageReason
	Combined float64
	Commands []RankCommand
}

// Authorize runs the pre-admission guards in order. It returns the reason the
// sender must be blocked, or ok=true when neither guard matches.
func (p Policy) Authorize(req domain.TransactionRequest) (reason domain.BlockageReason, ok bool) {
	if req.ToWallet.Blocked() {
		return domain.ReasonSentToBlockedWallet, false
	}
	if req.Score > p.SenderScoreCeiling {
		return domain.ReasonExceededRiskRankLimit, false
	}
	return "", true
}

// Evaluate screens a transfer from one wallet to another. The first matching
// rule wins:
//
//	external, receiver active, combined < external limit  -> enqueue, sender rank becomes combined
//	external                                               -> block, sender penalised
//	internal, receiver active, combined < internal limit  -> enqueue, ranks unchanged
//	internal                                               -> block, both wallets penalised
func (p Policy) Evaluate(from, to domain.Wallet) Evaluation {
	combined := CombinedRisk(from.RiskRank, to.RiskRank)

	if !to.IsInternal {
		if to.Active() && combined < p.ExternalLimitThreshold {
			return Evaluation{
				Verdict:  VerdictEnqueue,
				Combined: combined,
				Commands: []RankCommand{
					{Wallet: from, Kind: CommandAdd, Amount: to.RiskRank},
				},
			}
		}
		return Evaluation{
			Verdict:  VerdictBlock,
			Reason:   domain.ReasonExternalRankExceededThreshold,
			Combined: combined,
			Commands: []RankCommand{
				{Wallet: from, Kind: CommandPenalty, Amount: p.ExternalBlockPenaltyPct},
			},
		}
	}

	if to.Active() && combined < p.InternalLimitThreshold {
		return Evaluation{
			Verdict:  VerdictEnqueue,
			Combined: combined,
		}
	}
	return Evaluation{
		Verdict:  VerdictBlock,
		Reason:   domain.ReasonInternalRankExceededThreshold,
		Combined: combined,
		Commands: []RankCommand{
			{Wallet: from, Kind: CommandPenalty, Amount: p.InternalBlockPenaltyPct},
			{Wallet: to, Kind: CommandPenalty, Amount: p.InternalBlockPenaltyPct},
		},
	}
}
