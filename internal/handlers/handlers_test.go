package handlers

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/services"
)

const testUIDHeader = "X-Test-UID"

// fakeAuth stands in for auth.RequireAuth: the principal comes from a header.
func fakeAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if uid := c.Request().Header.Get(testUIDHeader); uid != "" {
			ctx := auth.WithPrincipal(c.Request().Context(), auth.Principal{UID: uid})
			c.SetRequest(c.Request().WithContext(ctx))
		}
		return next(c)
	}
}

func newTestServer(t *testing.T) (*echo.Echo, *services.TodoService) {
	t.Helper()
	store := services.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	todos := services.NewTodoService(store, auth.ContextProvider{})

	e := echo.New()
	api := e.Group("/api", fakeAuth)
	NewTaskHandler(todos).Register(api)
	api.GET("/tasks/stream", NewStreamHandler(todos, "*").StreamTasks)
	e.GET("/health", Health)
	return e, todos
}

func withUID(req *http.Request, uid string) *http.Request {
	req.Header.Set(testUIDHeader, uid)
	return req
}
