package dispatch

import (
	"context"

	"github.com/mattjoyce/docpush/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_enqueuer.go -package=mocks github.com/mattjoyce/docpush/internal/dispatch Enqueuer

// Enqueuer is the queue operation the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// Registry reports which build types exist.
type Registry interface {
	Has(buildType string) bool
}
