package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/example/chat-realtime/internal/config"
	"github.com/example/chat-realtime/internal/presence"
	"github.com/example/chat-realtime/internal/registry"
	"github.com/example/chat-realtime/internal/repository/postgres"
	"github.com/example/chat-realtime/internal/repository/redis"
	"github.com/example/chat-realtime/internal/router"
	"github.com/example/chat-realtime/internal/server"
	authservice "github.com/example/chat-realtime/internal/service/auth"
	transportHttp "github.com/example/chat-realtime/internal/transport/http"
	"github.com/example/chat-realtime/internal/transport/http/middleware"
	"github.com/example/chat-realtime/internal/transport/websocket"
	pkgauth "github.com/example/chat-realtime/pkg/auth"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found")
		}
	}

	cfg := config.LoadConfig()

	db, err := postgres.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetimeMin)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	defer db.Close()

	log.Println("Running database migrations...")
	if err := postgres.RunMigrations(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migration completed successfully")

	userRepo := postgres.NewUserRepo(db)
	chatRepo := postgres.NewChatRepo(db)
	messageRepo := postgres.NewMessageRepo(db)

	// Presence store: Redis when configured, otherwise a single-process
	// in-memory fallback (no cross-process fan-out).
	var store presence.Store
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Printf("Failed to initialize Redis: %v", err)
			store = presence.NewMemoryStore()
		} else {
			store = presence.NewRedisStore(client)
		}
	} else {
		log.Println("REDIS_URL not set, using in-memory presence store")
		store = presence.NewMemoryStore()
	}
	log.Printf("Presence store mode: %s", store.Mode())

	tokens := pkgauth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	validator := authservice.NewValidator(tokens, store)

	reg := registry.New(store, cfg.OfflineGraceDelay)
	rt := router.New(reg, store, chatRepo, messageRepo, router.Config{
		ExcludeSender: cfg.ExcludeSender,
		TypingWindow:  cfg.TypingWindow,
	})

	secureCookies := strings.HasPrefix(cfg.FrontendURL, "https://")

	authHandler := transportHttp.NewAuthHandler(userRepo, store, tokens, reg, secureCookies)
	oauthHandler := transportHttp.NewOAuthHandler(userRepo, tokens, &cfg.OAuthConfig, cfg.FrontendURL, secureCookies)
	healthHandler := transportHttp.NewHealthHandler(store, reg)
	wsHandler := websocket.NewHandler(reg, rt, validator, cfg.AllowedOrigins, cfg.WSRateBurst, cfg.WSRateInterval)

	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	engine.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	authMW := middleware.AuthMiddleware(validator)

	// Public Auth Routes
	engine.POST("/api/auth/register", authHandler.Register)
	engine.POST("/api/auth/login", authHandler.Login)
	engine.POST("/api/auth/refresh", authHandler.Refresh)

	// OAuth Routes (public)
	engine.GET("/api/auth/google/login", oauthHandler.GoogleLogin)
	engine.GET("/api/auth/google/callback", oauthHandler.GoogleCallback)

	// Protected Routes
	protected := engine.Group("/")
	protected.Use(authMW)
	{
		protected.POST("/api/auth/logout", authHandler.Logout)
		protected.GET("/api/auth/me", authHandler.Me)
	}

	// Diagnostics
	engine.GET("/api/health", healthHandler.Health)
	engine.GET("/api/connections", healthHandler.Connections)

	// WebSocket Route (auth handled inside the WS handler itself)
	engine.GET("/ws", wsHandler.HandleWebSocket)

	handle := server.NewHandle(":"+cfg.Port, engine, rt, reg, store)
	if err := handle.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := handle.Stop(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}
