package domain

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// TaskStore defines the persistence operations the service needs.
type TaskStore interface {
	ListByOwner(ctx context.Context, ownerID string) ([]Task, error)
	Insert(ctx context.Context, t Task) (Task, error)
	// UpdateByID merges the patch into the matching record and returns the
	// result. A nil task with a nil error means no record matched and upsert
	// was disabled.
	UpdateByID(ctx context.Context, id string, patch TaskPatch, upsert bool) (*Task, error)
	// DeleteByID returns the removed record, or nil when nothing matched.
	DeleteByID(ctx context.Context, id string) (*Task, error)
	BulkUpdate(ctx context.Context, ops []OrderUpdate) error
}

// Broadcaster pushes a named event to every connected client. Delivery is
// fire and forget.
type Broadcaster interface {
	Publish(ctx context.Context, event string, payload any)
}

// TaskService orchestrates task mutations: persist first, broadcast after
// the store commits.
type TaskService struct {
	store          TaskStore
	broadcast      Broadcaster
	upsertOnUpdate bool
}

// NewTaskService creates a TaskService. When upsertOnUpdate is set, updating
// an unknown id creates the record instead of failing.
func NewTaskService(store TaskStore, b Broadcaster, upsertOnUpdate bool) TaskService {
	return TaskService{store: store, broadcast: b, upsertOnUpdate: upsertOnUpdate}
}

// List returns every task belonging to the owner.
func (s TaskService) List(ctx context.Context, ownerID string) ([]Task, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	return s.store.ListByOwner(ctx, ownerID)
}

// Create persists a new task and broadcasts it with its assigned id.
func (s TaskService) Create(ctx context.Context, t Task) (Task, error) {
	if t.OwnerID == "" {
		return Task{}, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	t.ID = ""
	created, err := s.store.Insert(ctx, t)
	if err != nil {
		return Task{}, err
	}
	s.broadcast.Publish(ctx, EventTaskAdded, created)
	return created, nil
}

// Update merges the patch into the task with the given id.
func (s TaskService) Update(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrValidation)
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: update carries no fields", ErrValidation)
	}
	updated, err := s.store.UpdateByID(ctx, id, patch, s.upsertOnUpdate)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.broadcast.Publish(ctx, EventTaskUpdated, *updated)
	return updated, nil
}

// Delete removes the task with the given id.
func (s TaskService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: task id is required", ErrValidation)
	}
	removed, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return err
	}
	if removed == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.broadcast.Publish(ctx, EventTaskDeleted, id)
	return nil
}

// Reorder persists the supplied arrangement for the owner's board. Each
// entry's position in the sequence becomes its order value; the board is one
// flattened order space across categories, so dragging between columns is a
// single call. Updates are scoped to (task id, owner id).
//
// When the batch only partially applies the call still succeeds and the
// broadcast carries the requested arrangement, not necessarily the persisted
// one. Clients reconcile on their next fetch.
func (s TaskService) Reorder(ctx context.Context, ownerID string, entries []OrderEntry) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if len(entries) == 0 {
		return nil
	}
	ops := make([]OrderUpdate, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%w: reorder entry %d has no task id", ErrValidation, i)
		}
		ops = append(ops, OrderUpdate{ID: e.ID, OwnerID: ownerID, Order: i, Category: e.Category})
	}
	if err := s.store.BulkUpdate(ctx, ops); err != nil {
		var partial *PartialBatchError
		if !errors.As(err, &partial) {
			return err
		}
		log.WithFields(log.Fields{
			"owner":   ownerID,
			"applied": partial.Applied,
			"failed":  partial.Failed,
		}).Warn("reorder batch partially applied")
	}
	s.broadcast.Publish(ctx, EventTasksReordered, ReorderPayload{OwnerID: ownerID, Tasks: entries})
	return nil
}
