package api

import (
	"context"

	"taskboard-api/domain"
)

// Service abstracts task orchestration for handlers.
type Service interface {
	List(ctx context.Context, ownerID string) ([]domain.Task, error)
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, ownerID string, entries []domain.OrderEntry) error
}

// Broker hands out observer channels for the event stream endpoint.
type Broker interface {
	Subscribe() chan []byte
	Unsubscribe(chan []byte)
}
