package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/stream"
)

const (
	requestBodyMaxSize = 1 << 20
	keepaliveInterval  = 30 * time.Second
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Service, broker Broker, logger *log.Logger) {
	e.GET("/tasks", listTasks(svc, logger))
	e.POST("/tasks", createTask(svc))
	e.PUT("/tasks/reorder/:ownerId", reorderTasks(svc))
	e.PUT("/tasks/:id", updateTask(svc))
	e.DELETE("/tasks/:id", deleteTask(svc))
	e.GET("/events", streamEvents(broker))
	e.GET("/healthz", healthz())
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "task board server is running")
	}
}

func listTasks(svc Service, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics := newListRequestMetrics(logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		ownerID := c.QueryParam("ownerId")
		if ownerID == "" {
			metrics.SetErrorStage("missing_owner")
			err = c.String(http.StatusBadRequest, "ownerId query parameter is required")
			return err
		}

		fetchStart := time.Now()
		tasks, listErr := svc.List(ctx, ownerID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if listErr != nil {
			metrics.SetErrorStage("storage")
			err = writeErr(c, listErr)
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var t domain.Task
		if err := decodeBody(c, &t); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		created, err := svc.Create(c.Request().Context(), t)
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusCreated, created)
	}
}

func updateTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		updated, err := svc.Update(c.Request().Context(), c.Param("id"), patch)
		if err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTask(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := svc.Delete(c.Request().Context(), id); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"deleted": id})
	}
}

type reorderRequest struct {
	Tasks []domain.OrderEntry `json:"tasks"`
}

func reorderTasks(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := svc.Reorder(c.Request().Context(), c.Param("ownerId"), req.Tasks); err != nil {
			return writeErr(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "count": len(req.Tasks)})
	}
}

// streamEvents pushes broadcast envelopes to the client as server-sent
// events until the client disconnects.
func streamEvents(broker Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		// Write an initial comment to ensure headers are flushed to the client.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ch := broker.Subscribe()
		defer broker.Unsubscribe(ch)
		ctx := c.Request().Context()
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case msg := <-ch:
				var env stream.Envelope
				if err := sonic.Unmarshal(msg, &env); err != nil {
					c.Logger().Errorf("bad event envelope: %v", err)
					continue
				}
				if _, err := c.Response().Write([]byte("event: " + env.Event + "\ndata: " + string(env.Data) + "\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
