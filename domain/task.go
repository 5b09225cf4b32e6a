package domain

// Task represents a single board item.
type Task struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Title    string `json:"title"`
	Notes    string `json:"notes,omitempty"`
	Category string `json:"category"`
	Order    int    `json:"order"`
	Done     bool   `json:"done,omitempty"`
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	OwnerID  *string `json:"ownerId,omitempty"`
	Title    *string `json:"title,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Category *string `json:"category,omitempty"`
	Order    *int    `json:"order,omitempty"`
	Done     *bool   `json:"done,omitempty"`
}

// Apply merges the patch into t and returns the result.
func (p TaskPatch) Apply(t Task) Task {
	if p.OwnerID != nil {
		t.OwnerID = *p.OwnerID
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	if p.Done != nil {
		t.Done = *p.Done
	}
	return t
}

// Empty reports whether the patch carries no fields at all.
func (p TaskPatch) Empty() bool {
	return p.OwnerID == nil && p.Title == nil && p.Notes == nil &&
		p.Category == nil && p.Order == nil && p.Done == nil
}

// OrderEntry is one element of a reorder request: the task to place and the
// category it should end up in.
type OrderEntry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// OrderUpdate is a single positional update within a reorder batch, scoped
// to the owning user so an id collision cannot move another user's task.
type OrderUpdate struct {
	ID       string
	OwnerID  string
	Order    int
	Category string
}
