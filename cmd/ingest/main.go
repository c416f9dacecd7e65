package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vanshika/walletgate/internal/config"
	"github.com/vanshika/walletgate/internal/domain"
	"github.com/vanshika/walletgate/internal/gate"
	"github.com/vanshika/walletgate/internal/generator"
	"github.com/vanshika/walletgate/internal/graph"
	"github.com/vanshika/walletgate/internal/logging"
	"github.com/vanshika/walletgate/internal/registry"
	"github.com/vanshika/walletgate/internal/repository"
)

var errMissingDataset = errors.New("dataset not found")

func main() {
	var (
		datasetDir = flag.String("dataset-dir", "./seed-data", "Directory containing wallets.json and transfers.json")
		workers    = flag.Int("workers", 4, "Number of concurrent workers for seeding and replay")
		seedOnly   = flag.Bool("seed-only", false, "Register wallets without replaying transfers")
		drainWait  = flag.Duration("drain-timeout", 2*time.Minute, "How long to wait for requeued transfers after replay")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	baseLogger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()
	logger := baseLogger.With("component", "ingest")

	if _, err := os.Stat(*datasetDir); err != nil {
		logger.Error("dataset resolution failed", "error", fmt.Errorf("%w: %s", errMissingDataset, *datasetDir))
		os.Exit(1)
	}
	dataset, err := generator.ReadDataset(*datasetDir)
	if err != nil {
		logger.Error("failed to load dataset", "error", err, "dir", *datasetDir)
		os.Exit(1)
	}
	if len(dataset.Wallets) == 0 {
		logger.Error("wallets dataset empty", "dir", *datasetDir)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	graphClient, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	wallets := registry.New(repository.New(graphClient), baseLogger)

	start := time.Now()
	logger.Info("seeding wallets", "count", len(dataset.Wallets), "workers", *workers)
	if err := registry.NewBulkLoader(wallets, *workers).LoadWallets(ctx, walletInputs(dataset.Wallets)); err != nil {
		var taskErr *registry.TaskError
		if !errors.As(err, &taskErr) {
			logger.Error("wallet seeding failed", "error", err)
			os.Exit(1)
		}
		logger.Warn("some wallets were rejected", "failed", len(taskErr.Errors), "error", err)
	}
	if *seedOnly || len(dataset.Transfers) == 0 {
		logger.Info("seeding complete", "duration", time.Since(start).String(), "wallets", len(dataset.Wallets))
		return
	}

	counts := newTally()
	transferGate, err := gate.New(wallets, gate.Config{
		Policy: cfg.Gate.Policy,
		Retry: gate.RetryConfig{
			Delay:       cfg.Gate.RequeueDelay,
			MaxAttempts: cfg.Gate.MaxRequeueAttempts,
			Backoff:     cfg.Gate.RequeueBackoff,
			MaxDelay:    cfg.Gate.MaxRequeueDelay,
		},
		Resume: gate.ResumeConfig{
			Enabled:     cfg.Gate.ResumeWrites,
			Delay:       cfg.Gate.ResumeDelay,
			MaxDelay:    cfg.Gate.MaxResumeDelay,
			MaxAttempts: cfg.Gate.MaxResumeAttempts,
		},
		Logger:    baseLogger.With("component", "gate"),
		OnOutcome: counts.record,
	})
	if err != nil {
		logger.Error("failed to build transfer gate", "error", err)
		os.Exit(1)
	}
	defer transferGate.Close()

	logger.Info("replaying transfers", "count", len(dataset.Transfers))
	replay(ctx, logger, wallets, transferGate, dataset.Transfers, *workers, counts)

	drainCtx, drainCancel := context.WithTimeout(ctx, *drainWait)
	defer drainCancel()
	if err := drain(drainCtx, transferGate); err != nil {
		logger.Warn("transfers still pending", "requeued", transferGate.PendingRetries(), "resuming", transferGate.PendingResumes(), "error", err)
	}

	logger.Info("replay complete",
		"duration", time.Since(start).String(),
		"wallets", len(dataset.Wallets),
		"transfers", len(dataset.Transfers),
	)
	for _, line := range counts.summary() {
		logger.Info("decision count", "decision", line.decision, "count", line.count)
	}
}

func walletInputs(records []generator.WalletRecord) []registry.WalletInput {
	inputs := make([]registry.WalletInput, 0, len(records))
	for _, rec := range records {
		inputs = append(inputs, registry.WalletInput{
			SellerID:       rec.SellerID,
			SellerName:     rec.SellerName,
			RiskRank:       rec.RiskRank,
			IsInternal:     rec.IsInternal,
			Status:         rec.Status,
			BlockageReason: rec.BlockageReason,
		})
	}
	return inputs
}

func replay(ctx context.Context, logger *slog.Logger, wallets *registry.Registry, g *gate.Gate, transfers []generator.TransferRecord, workers int, counts *tally) {
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan generator.TransferRecord)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tr := range jobs {
				req, err := resolve(ctx, wallets, tr)
				if err != nil {
					logger.Warn("skipping transfer", "error", err, "from", tr.FromSellerID, "to", tr.ToSellerID)
					counts.skip()
					continue
				}
				counts.record(g.Submit(ctx, req))
			}
		}()
	}

feed:
	for _, tr := range transfers {
		select {
		case jobs <- tr:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func resolve(ctx context.Context, wallets *registry.Registry, tr generator.TransferRecord) (domain.TransactionRequest, error) {
	from, err := wallets.Wallet(ctx, tr.FromSellerID)
	if err != nil {
		return domain.TransactionRequest{}, err
	}
	to, err := wallets.Wallet(ctx, tr.ToSellerID)
	if err != nil {
		return domain.TransactionRequest{}, err
	}
	return domain.TransactionRequest{FromWallet: from, ToWallet: to, Amount: tr.Amount, Score: tr.Score}, nil
}

func drain(ctx context.Context, g *gate.Gate) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for g.PendingRetries() > 0 || g.InFlight() > 0 || g.PendingResumes() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

type tallyLine struct {
	decision string
	count    int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) record(out gate.Outcome, err error) {
	key := string(out.Decision)
	switch {
	case errors.Is(err, gate.ErrPersistenceFailed):
		key += "_UNPERSISTED"
	case err != nil:
		key = "ERROR"
	}
	t.mu.Lock()
	t.counts[key]++
	t.mu.Unlock()
}

func (t *tally) skip() {
	t.mu.Lock()
	t.counts["SKIPPED"]++
	t.mu.Unlock()
}

func (t *tally) summary() []tallyLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make([]tallyLine, 0, len(t.counts))
	for k, v := range t.counts {
		lines = append(lines, tallyLine{decision: k, count: v})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].decision < lines[j].decision })
	return lines
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("GRAPH_URI is required for ingestion")
	}
	client, err := graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
		TxTimeout:      cfg.Graph.TxTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}
