package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/config"
	"github.com/ytakahashi/todo-sync/internal/handlers"
	"github.com/ytakahashi/todo-sync/internal/services"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logOutput := cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := services.OpenStore(ctx, cfg.UsesMemoryStore(), cfg.StoreOptions())
	if err != nil {
		log.Fatalf("Failed to create document store: %v", err)
	}
	defer store.Close()

	todos := services.NewTodoService(store, auth.ContextProvider{})

	if cfg.Store.ProjectID == "" {
		log.Println("GOOGLE_CLOUD_PROJECT is not set; API requests cannot be authenticated")
	}
	verifier := auth.NewVerifier(cfg.Store.ProjectID, auth.NewCertKeySource(auth.GoogleCertsURL, nil))

	e := echo.New()
	e.HideBanner = true
	e.Use(handlers.RequestLogger(logOutput))
	e.Use(middleware.Recover())
	if cfg.RateLimit.RequestsPerSecond > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit.RequestsPerSecond))))
	}

	e.GET("/health", handlers.Health)

	api := e.Group("/api", auth.RequireAuth(verifier))
	handlers.NewTaskHandler(todos).Register(api)
	api.GET("/tasks/stream", handlers.NewStreamHandler(todos).StreamTasks)

	if cfg.Line.Enabled() {
		bot, err := messaging_api.NewMessagingApiAPI(cfg.Line.ChannelToken)
		if err != nil {
			log.Fatalf("Failed to create LINE bot client: %v", err)
		}
		e.POST("/webhook", handlers.NewWebhookHandler(bot, cfg.Line.ChannelSecret, todos).HandleWebhook)
	} else {
		log.Println("LINE channel not configured; webhook disabled")
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := e.Start(cfg.ServerAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
