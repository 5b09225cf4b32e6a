package domain

import (
	"context"
	"fmt"
)

// fakeStore is an in-memory TaskStore with the same contract as the table
// adapter, including bulk partial-failure reporting.
type fakeStore struct {
	tasks map[string]Task
	order []string
	seq   int

	listErr   error
	insertErr error
	updateErr error
	deleteErr error
	bulkErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]Task{}}
}

func (f *fakeStore) seed(t Task) Task {
	if t.ID == "" {
		f.seq++
		t.ID = fmt.Sprintf("task-%d", f.seq)
	}
	f.tasks[t.ID] = t
	f.order = append(f.order, t.ID)
	return t
}

func (f *fakeStore) ListByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	tasks := []Task{}
	for _, id := range f.order {
		if t, ok := f.tasks[id]; ok && t.OwnerID == ownerID {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (f *fakeStore) Insert(ctx context.Context, t Task) (Task, error) {
	if f.insertErr != nil {
		return Task{}, f.insertErr
	}
	return f.seed(t), nil
}

func (f *fakeStore) UpdateByID(ctx context.Context, id string, patch TaskPatch, upsert bool) (*Task, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	t, ok := f.tasks[id]
	if !ok {
		if !upsert || patch.OwnerID == nil || *patch.OwnerID == "" {
			return nil, nil
		}
		t = patch.Apply(Task{ID: id})
		f.tasks[id] = t
		f.order = append(f.order, id)
		return &t, nil
	}
	merged := patch.Apply(t)
	f.tasks[id] = merged
	return &merged, nil
}

func (f *fakeStore) DeleteByID(ctx context.Context, id string) (*Task, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	delete(f.tasks, id)
	return &t, nil
}

func (f *fakeStore) BulkUpdate(ctx context.Context, ops []OrderUpdate) error {
	if f.bulkErr != nil {
		return f.bulkErr
	}
	var applied, failed int
	var errs []error
	for _, op := range ops {
		t, ok := f.tasks[op.ID]
		if !ok || t.OwnerID != op.OwnerID {
			failed++
			errs = append(errs, fmt.Errorf("task %s: no match", op.ID))
			continue
		}
		t.Order = op.Order
		t.Category = op.Category
		f.tasks[op.ID] = t
		applied++
	}
	if failed == 0 {
		return nil
	}
	if applied == 0 {
		return &StoreError{Op: "bulk update", Err: errs[0]}
	}
	return &PartialBatchError{Applied: applied, Failed: failed, Errs: errs}
}

// recordingBroadcaster captures published events for assertions.
type recordingBroadcaster struct {
	events   []string
	payloads []any
}

func (b *recordingBroadcaster) Publish(ctx context.Context, event string, payload any) {
	b.events = append(b.events, event)
	b.payloads = append(b.payloads, payload)
}
