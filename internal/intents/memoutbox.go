package intents

import (
	"context"
	"sync"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// MemOutbox is an in-process Outbox for tests and DB-less deployments.
type MemOutbox struct {
	mu        sync.Mutex
	pending   map[string]models.Intent
	delivered map[string]bool
	order     []string
}

// NewMemOutbox constructs an empty in-memory outbox.
func NewMemOutbox() *MemOutbox {
	return &MemOutbox{
		pending:   make(map[string]models.Intent),
		delivered: make(map[string]bool),
	}
}

func (o *MemOutbox) Enqueue(ctx context.Context, intent models.Intent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.pending[intent.IdempotencyKey]; exists {
		return nil
	}
	if o.delivered[intent.IdempotencyKey] {
		return nil
	}
	o.pending[intent.IdempotencyKey] = intent
	o.order = append(o.order, intent.IdempotencyKey)
	return nil
}

func (o *MemOutbox) MarkDelivered(ctx context.Context, idempotencyKey string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, idempotencyKey)
	o.delivered[idempotencyKey] = true
	return nil
}

func (o *MemOutbox) Pending(ctx context.Context, limit int) ([]models.Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Intent, 0, limit)
	for _, key := range o.order {
		intent, ok := o.pending[key]
		if !ok {
			continue
		}
		out = append(out, intent)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
