package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/models"
	"github.com/ytakahashi/todo-sync/internal/services"
)

// StreamHandler pushes the caller's task list over a websocket every time it
// changes. Slow clients only ever receive the latest snapshot.
type StreamHandler struct {
	todos          *services.TodoService
	originPatterns []string
	writeTimeout   time.Duration
}

func NewStreamHandler(todos *services.TodoService, originPatterns ...string) *StreamHandler {
	return &StreamHandler{
		todos:          todos,
		originPatterns: originPatterns,
		writeTimeout:   5 * time.Second,
	}
}

func (h *StreamHandler) StreamTasks(c echo.Context) error {
	if _, ok := auth.PrincipalFromContext(c.Request().Context()); !ok {
		return c.JSON(http.StatusUnauthorized, models.Fail[[]models.Task](services.ErrNotAuthenticated))
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return nil
	}
	defer conn.CloseNow()

	// canceled once the client goes away
	ctx := conn.CloseRead(c.Request().Context())

	var (
		mu     sync.Mutex
		latest models.Result[[]models.Task]
		notify = make(chan struct{}, 1)
	)
	unsubscribe := h.todos.Subscribe(ctx, func(res models.Result[[]models.Task]) {
		mu.Lock()
		latest = res
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		}

		mu.Lock()
		res := latest
		mu.Unlock()
		if res.Success && res.Data == nil {
			res.Data = []models.Task{}
		}

		if err := h.write(ctx, conn, res); err != nil {
			log.Printf("Failed to send snapshot: %v", err)
			return nil
		}
		if !res.Success {
			conn.Close(websocket.StatusInternalError, "subscription failed")
			return nil
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, res models.Result[[]models.Task]) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
