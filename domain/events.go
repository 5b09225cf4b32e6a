package domain

// Broadcast event names pushed to every connected client.
const (
	EventTaskAdded      = "taskAdded"
	EventTaskUpdated    = "taskUpdated"
	EventTaskDeleted    = "taskDeleted"
	EventTasksReordered = "tasksReordered"
)

// ReorderPayload is the body of a tasksReordered broadcast. It carries the
// requested arrangement, which may be ahead of what the store persisted when
// the batch only partially applied.
type ReorderPayload struct {
	OwnerID string       `json:"ownerId"`
	Tasks   []OrderEntry `json:"tasks"`
}
