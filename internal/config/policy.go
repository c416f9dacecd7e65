package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vanshika/walletgate/internal/risk"
)

// policyFile mirrors the YAML layout of a gate policy file. Omitted keys keep
// the base value.
type policyFile struct {
	InternalLimitThreshold  *float64 `yaml:"internal_limit_threshold"`
	ExternalLimitThreshold  *float64 `yaml:"external_limit_threshold"`
	InternalBlockPenaltyPct *float64 `yaml:"internal_block_penalty_pct"`
	ExternalBlockPenaltyPct *float64 `yaml:"external_block_penalty_pct"`
	SenderScoreCeiling      *float64 `yaml:"sender_score_ceiling"`
}

// LoadPolicyFile reads a YAML policy from path and applies it over base.
func LoadPolicyFile(path string, base risk.Policy) (risk.Policy, error) {
	file, err := os.Open(path)
	if err != nil {
		return risk.Policy{}, fmt.Errorf("open policy: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var entry policyFile
	if err := dec.Decode(&entry); err != nil && !errors.Is(err, io.EOF) {
		return risk.Policy{}, fmt.Errorf("decode policy %s: %w", path, err)
	}

	policy := base
	overlay(&policy.InternalLimitThreshold, entry.InternalLimitThreshold)
	overlay(&policy.ExternalLimitThreshold, entry.ExternalLimitThreshold)
	overlay(&policy.InternalBlockPenaltyPct, entry.InternalBlockPenaltyPct)
	overlay(&policy.ExternalBlockPenaltyPct, entry.ExternalBlockPenaltyPct)
	overlay(&policy.SenderScoreCeiling, entry.SenderScoreCeiling)

	if err := policy.Validate(); err != nil {
		return risk.Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return policy, nil
}

func overlay(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
