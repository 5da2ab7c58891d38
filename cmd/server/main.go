package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tajnachat/tajna/internal/config"
	"github.com/tajnachat/tajna/internal/database"
	postgresrepo "github.com/tajnachat/tajna/internal/repository/postgres"
	"github.com/tajnachat/tajna/internal/repository/redisq"
	"github.com/tajnachat/tajna/internal/service"
	"github.com/tajnachat/tajna/internal/transport/http/handlers"
	"github.com/tajnachat/tajna/internal/transport/http/middleware"
	"github.com/tajnachat/tajna/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := database.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	log.Println("Connected to database")

	if err := postgresrepo.Migrate(ctx, pool); err != nil {
		log.Fatal(err)
	}

	// Redis - rotation notice queue
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	defer rdb.Close()
	noticeQueue := redisq.NewQueue(rdb)

	// Repositories
	userRepo := postgresrepo.NewUserRepo(pool)
	groupRepo := postgresrepo.NewGroupRepo(pool)
	memberRepo := postgresrepo.NewMemberKeyRepo(pool)
	messageRepo := postgresrepo.NewMessageRepo(pool)
	dmRepo := postgresrepo.NewDMRepo(pool)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	groupService := service.NewGroupService(groupRepo, memberRepo, userRepo, cfg.MaxGroupMembers)
	rotationService := service.NewRotationService(groupRepo, memberRepo, noticeQueue, cfg.RotateOnLeave)
	messageService := service.NewMessageService(messageRepo, groupRepo, memberRepo)
	dmService := service.NewDMService(dmRepo, userRepo)

	// WebSocket hub + real-time notifier
	hub := ws.NewHub()
	go hub.Run()

	notifier := ws.NewHubNotifier(hub)
	groupService.SetNotifier(notifier)
	rotationService.SetNotifier(notifier)
	messageService.SetNotifier(notifier)
	dmService.SetNotifier(notifier)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	groupHandler := handlers.NewGroupHandler(groupService, rotationService)
	keyHandler := handlers.NewKeyHandler(authService, groupService, noticeQueue)
	messageHandler := handlers.NewMessageHandler(messageService)
	dmHandler := handlers.NewDMHandler(dmService)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// WebSocket (token via query param)
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, cfg.JWTSecret, noticeQueue))

	// Protected - Public keys
	mux.Handle("GET /api/v1/users/{id}/public-key", auth(http.HandlerFunc(keyHandler.GetPublicKey)))
	mux.Handle("PUT /api/v1/users/me/public-key", auth(http.HandlerFunc(keyHandler.SetPublicKey)))

	// Protected - Groups
	mux.Handle("POST /api/v1/groups", auth(http.HandlerFunc(groupHandler.Create)))
	mux.Handle("GET /api/v1/groups", auth(http.HandlerFunc(groupHandler.List)))
	mux.Handle("GET /api/v1/groups/{id}", auth(http.HandlerFunc(groupHandler.Get)))
	mux.Handle("DELETE /api/v1/groups/{id}", auth(http.HandlerFunc(groupHandler.Delete)))

	// Protected - Membership
	mux.Handle("POST /api/v1/groups/{id}/join", auth(http.HandlerFunc(groupHandler.Join)))
	mux.Handle("POST /api/v1/groups/{id}/leave", auth(http.HandlerFunc(groupHandler.Leave)))
	mux.Handle("GET /api/v1/groups/{id}/members", auth(http.HandlerFunc(groupHandler.ListMembers)))
	mux.Handle("POST /api/v1/groups/{id}/members", auth(http.HandlerFunc(groupHandler.AddMember)))
	mux.Handle("PUT /api/v1/groups/{id}/members/{uid}/key", auth(http.HandlerFunc(groupHandler.GrantKey)))
	mux.Handle("POST /api/v1/groups/{id}/kick/{uid}", auth(http.HandlerFunc(groupHandler.Kick)))

	// Protected - Session keys
	mux.Handle("GET /api/v1/groups/{id}/key", auth(http.HandlerFunc(keyHandler.GetGroupKey)))
	mux.Handle("GET /api/v1/keys/pending", auth(http.HandlerFunc(keyHandler.PendingNotices)))

	// Protected - Messages
	mux.Handle("POST /api/v1/groups/{id}/messages", auth(http.HandlerFunc(messageHandler.Send)))
	mux.Handle("GET /api/v1/groups/{id}/messages", auth(http.HandlerFunc(messageHandler.ListRecent)))

	// Protected - Direct messages
	mux.Handle("POST /api/v1/dms", auth(http.HandlerFunc(dmHandler.OpenConversation)))
	mux.Handle("GET /api/v1/dms", auth(http.HandlerFunc(dmHandler.ListConversations)))
	mux.Handle("POST /api/v1/dms/{id}/messages", auth(http.HandlerFunc(dmHandler.Send)))
	mux.Handle("GET /api/v1/dms/{id}/messages", auth(http.HandlerFunc(dmHandler.ListRecent)))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: middleware.CORS(mux),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
