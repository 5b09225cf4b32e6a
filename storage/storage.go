package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard-api/domain"
)

// transactionLimit is the table service cap on actions per transaction.
const transactionLimit = 100

// Storage provides access to the task table.
type Storage struct {
	table *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	clientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &clientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{table: svc.NewClient(tasksTable)}, nil
}

// Init creates the task table when it does not exist yet.
func (s *Storage) Init(ctx context.Context) error {
	if _, err := s.table.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

// Tasks are stored one entity per task: PartitionKey is the owner id,
// RowKey the task id.
type taskEntity struct {
	aztables.Entity
	Title    string `json:"Title"`
	Notes    string `json:"Notes"`
	Category string `json:"Category"`
	Order    int    `json:"Order"`
	Done     bool   `json:"Done"`
}

func entityFromTask(t domain.Task) taskEntity {
	return taskEntity{
		Entity:   aztables.Entity{PartitionKey: t.OwnerID, RowKey: t.ID},
		Title:    t.Title,
		Notes:    t.Notes,
		Category: t.Category,
		Order:    t.Order,
		Done:     t.Done,
	}
}

func taskFromEntity(ent taskEntity) domain.Task {
	return domain.Task{
		ID:       ent.RowKey,
		OwnerID:  ent.PartitionKey,
		Title:    ent.Title,
		Notes:    ent.Notes,
		Category: ent.Category,
		Order:    ent.Order,
		Done:     ent.Done,
	}
}

// ListByOwner retrieves all tasks belonging to the owner. An owner with no
// tasks yields an empty slice, not an error.
func (s *Storage) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + ownerID + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.StoreError{Op: "list", Err: err}
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, &domain.StoreError{Op: "list", Err: err}
			}
			tasks = append(tasks, taskFromEntity(ent))
		}
	}
	return tasks, nil
}

// Insert persists a new task and returns it with its assigned id.
func (s *Storage) Insert(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	payload, _ := json.Marshal(entityFromTask(t))
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, &domain.StoreError{Op: "insert", Err: err}
	}
	return t, nil
}

// lookupByID finds the entity with the given row key across partitions.
// Task ids are uuids, so at most one row matches.
func (s *Storage) lookupByID(ctx context.Context, id string) (*taskEntity, error) {
	filter := "RowKey eq '" + id + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			return &ent, nil
		}
	}
	return nil, nil
}

// UpdateByID merges the patch into the task with the given id and returns
// the post-update record. When no row matches: with upsert the patch plus id
// becomes a new record, otherwise the result is nil, nil.
func (s *Storage) UpdateByID(ctx context.Context, id string, patch domain.TaskPatch, upsert bool) (*domain.Task, error) {
	ent, err := s.lookupByID(ctx, id)
	if err != nil {
		return nil, &domain.StoreError{Op: "lookup", Err: err}
	}
	if ent == nil {
		if !upsert {
			return nil, nil
		}
		if patch.OwnerID == nil || *patch.OwnerID == "" {
			return nil, fmt.Errorf("%w: upsert requires an owner id", domain.ErrValidation)
		}
		t := patch.Apply(domain.Task{ID: id})
		payload, _ := json.Marshal(entityFromTask(t))
		if _, err := s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
			return nil, &domain.StoreError{Op: "upsert", Err: err}
		}
		return &t, nil
	}

	current := taskFromEntity(*ent)
	merged := patch.Apply(current)
	if merged.OwnerID != current.OwnerID {
		// Partition keys are immutable, so handing a task to another owner
		// is an insert under the new key plus a delete of the old row.
		payload, _ := json.Marshal(entityFromTask(merged))
		if _, err := s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
			return nil, &domain.StoreError{Op: "move", Err: err}
		}
		if _, err := s.table.DeleteEntity(ctx, current.OwnerID, id, nil); err != nil && !isNotFound(err) {
			return nil, &domain.StoreError{Op: "move", Err: err}
		}
		return &merged, nil
	}

	payload, _ := json.Marshal(patchProps(current.OwnerID, id, patch))
	if _, err := s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		if isNotFound(err) {
			// Raced with a delete between lookup and update.
			return nil, nil
		}
		return nil, &domain.StoreError{Op: "update", Err: err}
	}
	return &merged, nil
}

// DeleteByID removes the task with the given id and returns the removed
// record, or nil when nothing matched.
func (s *Storage) DeleteByID(ctx context.Context, id string) (*domain.Task, error) {
	ent, err := s.lookupByID(ctx, id)
	if err != nil {
		return nil, &domain.StoreError{Op: "lookup", Err: err}
	}
	if ent == nil {
		return nil, nil
	}
	if _, err := s.table.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &domain.StoreError{Op: "delete", Err: err}
	}
	t := taskFromEntity(*ent)
	return &t, nil
}

// BulkUpdate applies positional updates as per-owner merge transactions in
// chunks of up to transactionLimit. A transaction fails wholesale when any of
// its rows is missing, so a failed chunk is retried op by op; rows that still
// fail (typically ids not owned by the requesting user) are reported through
// PartialBatchError once anything else landed.
func (s *Storage) BulkUpdate(ctx context.Context, ops []domain.OrderUpdate) error {
	if len(ops) == 0 {
		return nil
	}
	var applied, failed int
	var errs []error
	for _, chunk := range chunkByOwner(ops, transactionLimit) {
		actions := make([]aztables.TransactionAction, 0, len(chunk))
		for _, op := range chunk {
			payload, _ := json.Marshal(orderProps(op))
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeUpdateMerge,
				Entity:     payload,
			})
		}
		if _, err := s.table.SubmitTransaction(ctx, actions, nil); err == nil {
			applied += len(actions)
			continue
		}
		for _, op := range chunk {
			payload, _ := json.Marshal(orderProps(op))
			if _, err := s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
				failed++
				errs = append(errs, fmt.Errorf("task %s: %w", op.ID, err))
				continue
			}
			applied++
		}
	}
	if failed == 0 {
		return nil
	}
	if applied == 0 {
		return &domain.StoreError{Op: "bulk update", Err: errors.Join(errs...)}
	}
	return &domain.PartialBatchError{Applied: applied, Failed: failed, Errs: errs}
}

func orderProps(op domain.OrderUpdate) map[string]any {
	return map[string]any{
		"PartitionKey": op.OwnerID,
		"RowKey":       op.ID,
		"Order":        op.Order,
		"Category":     op.Category,
	}
}

func patchProps(ownerID, id string, patch domain.TaskPatch) map[string]any {
	props := map[string]any{"PartitionKey": ownerID, "RowKey": id}
	if patch.Title != nil {
		props["Title"] = *patch.Title
	}
	if patch.Notes != nil {
		props["Notes"] = *patch.Notes
	}
	if patch.Category != nil {
		props["Category"] = *patch.Category
	}
	if patch.Order != nil {
		props["Order"] = *patch.Order
	}
	if patch.Done != nil {
		props["Done"] = *patch.Done
	}
	return props
}

// chunkByOwner groups ops by owner, preserving sequence order within each
// group, and splits groups into transaction-sized chunks.
func chunkByOwner(ops []domain.OrderUpdate, size int) [][]domain.OrderUpdate {
	groups := map[string][]domain.OrderUpdate{}
	owners := []string{}
	for _, op := range ops {
		if _, ok := groups[op.OwnerID]; !ok {
			owners = append(owners, op.OwnerID)
		}
		groups[op.OwnerID] = append(groups[op.OwnerID], op)
	}
	var chunks [][]domain.OrderUpdate
	for _, owner := range owners {
		g := groups[owner]
		for len(g) > size {
			chunks = append(chunks, g[:size])
			g = g[size:]
		}
		if len(g) > 0 {
			chunks = append(chunks, g)
		}
	}
	return chunks
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
