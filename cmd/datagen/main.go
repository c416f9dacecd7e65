package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vanshika/walletgate/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		wallets         = flag.Int("wallets", cfg.NumWallets, "number of wallets to generate")
		transfers       = flag.Int("transfers", cfg.NumTransfers, "number of transfers to generate")
		internalChance  = flag.Float64("internal-chance", cfg.InternalChance, "probability that a wallet belongs to an internal seller")
		blockedChance   = flag.Float64("blocked-chance", cfg.BlockedChance, "probability that a wallet starts blocked")
		highScoreChance = flag.Float64("high-score-chance", cfg.HighScoreChance, "probability that a transfer carries a score above the sender ceiling")
		maxRank         = flag.Float64("max-rank", cfg.MaxRiskRank, "upper bound of the initial risk rank")
		seed            = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir       = flag.String("output-dir", "seed-data", "directory to write wallets.json and transfers.json")
		writeStdout     = flag.Bool("stdout", false, "write combined dataset to stdout instead of files")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumWallets:      *wallets,
		NumTransfers:    *transfers,
		InternalChance:  clampProbability(*internalChance),
		BlockedChance:   clampProbability(*blockedChance),
		HighScoreChance: clampProbability(*highScoreChance),
		MaxRiskRank:     *maxRank,
		Seed:            *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dataset, err := generator.New(genCfg).Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Generated %d wallets and %d transfers into %s\n", len(dataset.Wallets), len(dataset.Transfers), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
