package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"redis-chat/internal/auth"
	"redis-chat/internal/bus"
	"redis-chat/internal/config"
	"redis-chat/internal/database"
	"redis-chat/internal/demo"
	"redis-chat/internal/handlers"
	"redis-chat/internal/router"
	"redis-chat/internal/services"
	"redis-chat/internal/websocket"
	"redis-chat/pkg/logger"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx := context.Background()
	instanceID := uuid.NewString()

	// Shared store
	redisClient := database.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	store, err := database.NewRedisDB(ctx, redisClient)
	if err != nil {
		logger.Fatal("Failed to connect to redis: %v", err)
	}

	var users database.UserRepository = store
	var pgUsers *database.PostgresUsers
	if cfg.Database.UserStore == config.UserStorePostgres {
		pgUsers, err = database.NewPostgresUsers(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to postgres: %v", err)
		}
		users = pgUsers
	}

	// Initialize services
	presence := services.NewPresenceService(store, cfg.Presence.TTL)
	rooms := services.NewRoomService(store, users, store)
	messages := services.NewMessageService(store)
	authService := auth.NewService(users, rooms, cfg.JWT)
	gate := auth.NewGate(authService)

	if _, err := demo.NewSeeder(authService, rooms, messages).Bootstrap(ctx, cfg.DemoData); err != nil {
		logger.Fatal("Failed to bootstrap store: %v", err)
	}

	// Fan-out: local hub plus the cross-instance bus
	hub := websocket.NewHub()
	transport, err := newTransport(cfg.Bus, redisClient, instanceID)
	if err != nil {
		logger.Fatal("Failed to set up bus: %v", err)
	}
	b := bus.New(transport, hub, bus.Options{
		InstanceID: instanceID,
		RetryMin:   cfg.Bus.RetryMin,
		RetryMax:   cfg.Bus.RetryMax,
	})
	rt := router.New(presence, rooms, messages, users, b, hub)
	b.SetResolver(rt.AudienceFor)

	runCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return rt.RunLiveness(gctx) })

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(gate, hub, rt, cfg.Server.AllowedOrigins)
	routes := handlers.Handlers{
		Auth:      handlers.NewAuthHandlers(authService, gate, cfg.JWT.ExpiresIn),
		Users:     handlers.NewUserHandlers(authService, presence, gate),
		Rooms:     handlers.NewRoomHandlers(rooms, messages, gate),
		Stream:    handlers.NewStreamHandlers(b),
		WebSocket: wsHandlers,
		Health:    handlers.NewHealthHandlers(store, b, hub),
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      routes.Routes(cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	// Shutdown waits for open requests; SSE streams only end once their
	// listener channel closes.
	server.RegisterOnShutdown(b.CloseListeners)

	logger.Info("🚀 Server started on http://localhost%s (instance %s)", cfg.Server.Port, instanceID)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	logger.Info("🔀 Bus driver: %s, channel %s", cfg.Bus.Driver, cfg.Bus.Channel)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				logger.Info("Server shutting down...")
				var errs []error

				// HTTP gets half the budget so socket draining keeps the rest.
				httpCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout/2)
				errs = append(errs, server.Shutdown(httpCtx))
				cancel()

				// Stopping the hub closes every socket; their disconnects
				// still publish through the bus and write to the store.
				stop()
				errs = append(errs, wsHandlers.Drain(ctx))
				errs = append(errs, g.Wait())
				errs = append(errs, b.Close())
				if pgUsers != nil {
					errs = append(errs, pgUsers.Close())
				}
				errs = append(errs, store.Close())
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited with code %d", exitCode)
	os.Exit(exitCode)
}

func newTransport(cfg config.BusConfig, redisClient *redis.Client, instanceID string) (bus.Transport, error) {
	switch cfg.Driver {
	case config.BusNATS:
		nc, err := bus.ConnectNATS(cfg.NATSURL, "redis-chat-"+instanceID)
		if err != nil {
			return nil, err
		}
		return bus.NewNATSTransport(nc, cfg.Channel), nil
	case config.BusMemory:
		logger.Warn("In-memory bus: events stay on this instance")
		return bus.NewMemoryTransport(), nil
	default:
		return bus.NewRedisTransport(redisClient, cfg.Channel), nil
	}
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /login")
	logger.Info("   POST /register")
	logger.Info("   POST /logout")
	logger.Info("   GET  /me")
	logger.Info("   GET  /users/online")
	logger.Info("   GET  /users?ids[]={id}")
	logger.Info("   GET  /rooms/{userId}")
	logger.Info("   GET  /room/{id}/messages?offset={n}&size={n}")
	logger.Info("   GET  /stream")
	logger.Info("   GET  /healthz")
}
