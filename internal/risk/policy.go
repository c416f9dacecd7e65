// Package risk holds the pure risk arithmetic used to screen transfers.
package risk

import (
	"errors"
	"fmt"
)

// Policy defaults.
const (
	DefaultInternalLimitThreshold  = 300
	DefaultExternalLimitThreshold  = 100
	DefaultInternalBlockPenaltyPct = 15
	DefaultExternalBlockPenaltyPct = 10
	DefaultSenderScoreCeiling      = 600
)

// Policy holds the thresholds and penalties applied by Evaluate.
type Policy struct {
	InternalLimitThreshold  float64
	ExternalLimitThreshold  float64
	InternalBlockPenaltyPct float64
	ExternalBlockPenaltyPct float64
	SenderScoreCeiling      float64
}

// ErrInvalidPolicy is returned by Validate.
var ErrInvalidPolicy = errors.New("invalid risk policy")

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		InternalLimitThreshold:  DefaultInternalLimitThreshold,
		ExternalLimitThreshold:  DefaultExternalLimitThreshold,
		InternalBlockPenaltyPct: DefaultInternalBlockPenaltyPct,
		ExternalBlockPenaltyPct: DefaultExternalBlockPenaltyPct,
		SenderScoreCeiling:      DefaultSenderScoreCeiling,
	}
}

// Validate rejects negative thresholds and penalties.
func (p Policy) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"internal limit threshold", p.InternalLimitThreshold},
		{"external limit threshold", p.ExternalLimitThreshold},
		{"internal block penalty", p.InternalBlockPenaltyPct},
		{"external block penalty", p.ExternalBlockPenaltyPct},
		{"sender score ceiling", p.SenderScoreCeiling},
	}
	for _, c := range checks {
		if c.value < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidPolicy, c.name, c.value)
		}
	}
	return nil
}

// CombinedRisk is the risk of a transfer between two wallets.
func CombinedRisk(a, b float64) float64 {
	return a + b
}

// PercentageIncrement raises rank by pct percent of itself.
func PercentageIncrement(rank, pct float64) float64 {
	return rank + rank*pct/100
}
