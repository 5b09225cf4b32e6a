package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/stream"
)

type fakeService struct {
	tasks map[string][]domain.Task

	created   []domain.Task
	createErr error
	updated   *domain.Task
	updateErr error
	deleteErr error

	reorderOwner   string
	reorderEntries []domain.OrderEntry
	reorderErr     error
}

func (f *fakeService) List(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if f.tasks == nil {
		return []domain.Task{}, nil
	}
	return f.tasks[ownerID], nil
}

func (f *fakeService) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if f.createErr != nil {
		return domain.Task{}, f.createErr
	}
	t.ID = "t-created"
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeService) Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.updated, nil
}

func (f *fakeService) Delete(ctx context.Context, id string) error {
	return f.deleteErr
}

func (f *fakeService) Reorder(ctx context.Context, ownerID string, entries []domain.OrderEntry) error {
	if f.reorderErr != nil {
		return f.reorderErr
	}
	f.reorderOwner = ownerID
	f.reorderEntries = entries
	return nil
}

func newTestServer(svc Service, broker Broker) *echo.Echo {
	e := echo.New()
	if broker == nil {
		broker = stream.NewHub(nil, "task-events")
	}
	Register(e, svc, broker, log.New())
	return e
}

func TestListTasksMissingOwner(t *testing.T) {
	e := newTestServer(&fakeService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListTasksReturnsOwnerTasks(t *testing.T) {
	expected := []domain.Task{{ID: "t1", OwnerID: "u1", Title: "Write code", Category: "todo"}}
	e := newTestServer(&fakeService{tasks: map[string][]domain.Task{"u1": expected}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/tasks?ownerId=u1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got []domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("unexpected body: %#v", got)
	}
}

func TestCreateTask(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc, nil)
	body := `{"ownerId":"u1","title":"Write code","category":"todo"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != "t-created" || got.OwnerID != "u1" {
		t.Fatalf("unexpected created task: %#v", got)
	}
}

func TestCreateTaskValidationError(t *testing.T) {
	svc := &fakeService{createErr: fmt.Errorf("%w: owner id is required", domain.ErrValidation)}
	e := newTestServer(svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateTaskStoreError(t *testing.T) {
	svc := &fakeService{createErr: &domain.StoreError{Op: "insert", Err: errors.New("down")}}
	e := newTestServer(svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"ownerId":"u1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCreateTaskInvalidBody(t *testing.T) {
	e := newTestServer(&fakeService{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"ownerId":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	updated := domain.Task{ID: "t1", OwnerID: "u1", Title: "renamed", Category: "todo"}
	e := newTestServer(&fakeService{updated: &updated}, nil)
	req := httptest.NewRequest(http.MethodPut, "/tasks/t1", strings.NewReader(`{"title":"renamed"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !reflect.DeepEqual(got, updated) {
		t.Fatalf("unexpected body: %#v", got)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	svc := &fakeService{updateErr: fmt.Errorf("%w: t1", domain.ErrNotFound)}
	e := newTestServer(svc, nil)
	req := httptest.NewRequest(http.MethodPut, "/tasks/t1", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	e := newTestServer(&fakeService{}, nil)
	req := httptest.NewRequest(http.MethodDelete, "/tasks/t1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got["deleted"] != "t1" {
		t.Fatalf("unexpected confirmation: %#v", got)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	svc := &fakeService{deleteErr: fmt.Errorf("%w: t1", domain.ErrNotFound)}
	e := newTestServer(svc, nil)
	req := httptest.NewRequest(http.MethodDelete, "/tasks/t1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReorderTasks(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc, nil)
	body := `{"tasks":[{"id":"b","category":"doing"},{"id":"a","category":"todo"}]}`
	req := httptest.NewRequest(http.MethodPut, "/tasks/reorder/u1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.reorderOwner != "u1" {
		t.Fatalf("owner not taken from path: %q", svc.reorderOwner)
	}
	want := []domain.OrderEntry{{ID: "b", Category: "doing"}, {ID: "a", Category: "todo"}}
	if !reflect.DeepEqual(svc.reorderEntries, want) {
		t.Fatalf("unexpected entries: %#v", svc.reorderEntries)
	}
}

func TestReorderTasksTotalFailure(t *testing.T) {
	svc := &fakeService{reorderErr: &domain.StoreError{Op: "bulk update", Err: errors.New("down")}}
	e := newTestServer(svc, nil)
	req := httptest.NewRequest(http.MethodPut, "/tasks/reorder/u1", strings.NewReader(`{"tasks":[{"id":"a"}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func TestStreamEventsDeliversBroadcast(t *testing.T) {
	hub := stream.NewHub(nil, "task-events")
	e := newTestServer(&fakeService{}, hub)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	rec := flushRecorder{httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		e.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	hub.Publish(context.Background(), domain.EventTaskAdded, domain.Task{ID: "t1", OwnerID: "u1"})
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not stop on disconnect")
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, ":ok\n\n") {
		t.Fatalf("missing initial comment: %q", body)
	}
	if !strings.Contains(body, "event: taskAdded\ndata: ") {
		t.Fatalf("missing event frame: %q", body)
	}
	if !strings.Contains(body, `"id":"t1"`) {
		t.Fatalf("missing payload: %q", body)
	}
}
