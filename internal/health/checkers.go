package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

// KnowledgeChecker reports ready once the knowledge service has loaded its
// facts. Sessions can run without facts, but retrieval answers would be
// empty, so a degraded knowledge base fails readiness rather than liveness.
func KnowledgeChecker(svc *knowledge.Service) Checker {
	return Checker{
		Name: "knowledge",
		Check: func(_ context.Context) error {
			if svc == nil {
				return errors.New("knowledge service not configured")
			}
			if !svc.Ready() {
				return errors.New("knowledge base not loaded")
			}
			if n := svc.FactCount(); n == 0 {
				return fmt.Errorf("knowledge base is empty")
			}
			return nil
		},
	}
}

// Pinger is the subset of a database pool needed for readiness probes.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the transcript store's database connection. Pass the
// pool backing the store; a nil pinger fails readiness, so only register the
// check when persistence is configured.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("transcript store not configured")
			}
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}
