package payments

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"orderflow/internal/domain"
)

// Result is the gateway's verdict on a charge attempt
type Result struct {
	Approved bool
	Response string
}

// Gateway settles a payment attempt with an external provider. An error
// return means the provider could not be reached, not that the charge was
// declined; declines come back as an unapproved Result.
type Gateway interface {
	Charge(ctx context.Context, payment *domain.Payment) (Result, error)
}

// SimulatedGateway approves a configurable percentage of charges at
// random. Stands in for a real provider integration.
type SimulatedGateway struct {
	successRate int
	mu          sync.Mutex
	rng         *rand.Rand
}

// NewSimulatedGateway creates a gateway approving successRate percent of charges
func NewSimulatedGateway(successRate int) *SimulatedGateway {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 100 {
		successRate = 100
	}
	return &SimulatedGateway{
		successRate: successRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, payment *domain.Payment) (Result, error) {
	g.mu.Lock()
	roll := g.rng.Intn(100)
	g.mu.Unlock()

	if roll < g.successRate {
		return Result{Approved: true, Response: "Payment processed successfully"}, nil
	}
	return Result{Approved: false, Response: "Payment declined by gateway"}, nil
}
