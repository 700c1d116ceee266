package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/llm"
	"github.com/MeruLocal/hellocfo-sub002/internal/adapter/mcp"
	"github.com/MeruLocal/hellocfo-sub002/internal/agent"
	"github.com/MeruLocal/hellocfo-sub002/internal/config"
	"github.com/MeruLocal/hellocfo-sub002/internal/policy"
	store "github.com/MeruLocal/hellocfo-sub002/internal/repository"
	"github.com/MeruLocal/hellocfo-sub002/internal/service"
	handler "github.com/MeruLocal/hellocfo-sub002/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM Gateway: %s", cfg.LLMGatewayURL)
	log.Printf("Tool Server: %s", cfg.ToolServerURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLMGatewayURL, cfg.LLMAPIKey, cfg.LLMTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	loop := agent.NewLoop(llmClient, policyEngine, cfg.LLMModel, cfg.MaxIterations)

	// One tool session per turn; connection failures degrade the turn.
	newSession := func(ctx context.Context, credential string) (service.ToolSession, error) {
		client := mcp.NewClient(cfg.ToolServerURL, cfg.ToolTimeout)
		client.SetCredential(credential)
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	}

	// Initialize service
	svc := service.New(db, llmClient, loop, cfg, newSession)

	// Initialize handler
	h := handler.NewHandler(svc, cfg)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Engine stopped")
}
