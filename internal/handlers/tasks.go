package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/todo-sync/internal/models"
	"github.com/ytakahashi/todo-sync/internal/services"
)

type TaskHandler struct {
	todos *services.TodoService
}

func NewTaskHandler(todos *services.TodoService) *TaskHandler {
	return &TaskHandler{todos: todos}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type toggleTaskRequest struct {
	Completed *bool `json:"completed"`
}

// Register mounts the task routes on g. g is expected to carry the auth middleware.
func (h *TaskHandler) Register(g *echo.Group) {
	g.GET("/tasks", h.ListTasks)
	g.POST("/tasks", h.CreateTask)
	g.PATCH("/tasks/:id", h.UpdateTask)
	g.DELETE("/tasks/:id", h.DeleteTask)
	g.POST("/tasks/:id/toggle", h.ToggleTask)
	g.GET("/stats", h.GetStats)
}

func (h *TaskHandler) ListTasks(c echo.Context) error {
	res := h.todos.ListTasks(c.Request().Context())
	if res.Success && res.Data == nil {
		res.Data = []models.Task{}
	}
	return respond(c, http.StatusOK, res)
}

func (h *TaskHandler) CreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, 0, models.Fail[models.Task](invalidBody(err)))
	}
	if err := errors.Join(models.ValidateTitle(req.Title), models.ValidateDescription(req.Description)); err != nil {
		return respond(c, 0, models.Fail[models.Task](err))
	}

	return respond(c, http.StatusCreated, h.todos.AddTask(c.Request().Context(), req.Title, req.Description))
}

func (h *TaskHandler) UpdateTask(c echo.Context) error {
	var upd models.TaskUpdate
	if err := c.Bind(&upd); err != nil {
		return respond(c, 0, models.Fail[models.Empty](invalidBody(err)))
	}
	if upd.IsEmpty() {
		return respond(c, 0, models.Fail[models.Empty](errors.Join(models.ErrInvalidTask, errors.New("nothing to update"))))
	}
	if upd.Title != nil {
		if err := models.ValidateTitle(*upd.Title); err != nil {
			return respond(c, 0, models.Fail[models.Empty](err))
		}
	}
	if upd.Description != nil {
		if err := models.ValidateDescription(*upd.Description); err != nil {
			return respond(c, 0, models.Fail[models.Empty](err))
		}
	}

	return respond(c, http.StatusOK, h.todos.UpdateTask(c.Request().Context(), c.Param("id"), upd))
}

func (h *TaskHandler) DeleteTask(c echo.Context) error {
	return respond(c, http.StatusOK, h.todos.DeleteTask(c.Request().Context(), c.Param("id")))
}

// ToggleTask expects the completion state the client currently shows.
func (h *TaskHandler) ToggleTask(c echo.Context) error {
	var req toggleTaskRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, 0, models.Fail[models.Empty](invalidBody(err)))
	}
	if req.Completed == nil {
		return respond(c, 0, models.Fail[models.Empty](errors.Join(models.ErrInvalidTask, errors.New("completed is required"))))
	}

	return respond(c, http.StatusOK, h.todos.ToggleComplete(c.Request().Context(), c.Param("id"), *req.Completed))
}

func (h *TaskHandler) GetStats(c echo.Context) error {
	return respond(c, http.StatusOK, h.todos.GetStats(c.Request().Context()))
}

func invalidBody(err error) error {
	return errors.Join(models.ErrInvalidTask, errors.New("invalid request body"), err)
}

// respond writes res with okStatus on success and a status derived from the
// error otherwise.
func respond[T any](c echo.Context, okStatus int, res models.Result[T]) error {
	if res.Success {
		return c.JSON(okStatus, res)
	}
	return c.JSON(statusFor(res.Err), res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrInvalidTask), errors.Is(err, services.ErrMissingTaskID):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrRemoteOperationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
