package server

import (
	"context"

	"github.com/vanshika/walletgate/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// GraphHealthService reports the wallet store as unhealthy when the graph
// database cannot be reached.
type GraphHealthService struct {
	Client graph.Client
}

func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.VerifyConnectivity(ctx)
}

// GateStats exposes gate counters on the health endpoint.
type GateStats interface {
	InFlight() int
	PendingRetries() int
}
