package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"chatrelay/internal/call"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/lifecycle"
	"chatrelay/internal/middleware"
	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
	"chatrelay/internal/user"
	"chatrelay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Platform layer
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// User feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// Chat core
	store := chat.NewStore(database.Conn)
	presence := registry.NewRedisPresence(redisClient)
	reg := registry.New(userRepo, presence)
	messageRelay := relay.New(store, reg)
	callCoordinator := call.New(store, reg)
	reg.SetOfflineHook(callCoordinator.HandleUserOffline)

	router := ws.NewRouter(reg, messageRelay, callCoordinator)
	wsHandler := ws.NewHandler(reg, router)
	chatHandler := chat.NewHandler(store)

	// Background loops
	go presence.Subscribe(ctx, reg)
	go reg.RunSweeper(ctx, cfg.HeartbeatCheck, cfg.StaleTimeout)

	manager := lifecycle.NewManager(store, cfg.ExpireSweepEvery, cfg.PurgeSweepEvery, cfg.PurgeRetention)
	go manager.Run(ctx)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	// Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		// WebSocket (Real-time)
		r.Get("/ws", wsHandler.ServeWs)

		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Post("/api/rooms", chatHandler.CreateRoom)
		r.Get("/api/messages", chatHandler.GetChatHistory)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Server starting on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("✅ Server stopped")
}
