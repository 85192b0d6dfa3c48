package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "voltgrid/libs/db"
	libredis "voltgrid/libs/redis"

	"voltgrid/internal/availability"
	"voltgrid/internal/config"
	"voltgrid/internal/db"
	httpserver "voltgrid/internal/http"
	"voltgrid/internal/http/handlers"
	"voltgrid/internal/http/middleware"
	"voltgrid/internal/metrics"
	"voltgrid/internal/notify"
	"voltgrid/internal/repository"
	"voltgrid/internal/service"
)

// App wires the service dependencies.
type App struct {
	server      *httpserver.Server
	sweeper     *service.Sweeper
	hub         *notify.Hub
	dispatcher  *notify.Dispatcher
	pool        *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := libdb.NewPostgres(cfg.Database.DSN, libdb.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background(), pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	redisClient, err := libredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		pool.Close()
		return nil, err
	}

	metrics.Init()

	walletRepo := repository.NewWalletRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	hostRepo := repository.NewHostRepository(pool)

	gate := availability.NewRedisGate(redisClient, hostRepo, cfg.BookableTTL(), cfg.OccupancyTTL(), logger)

	hub := notify.NewHub(cfg.PingInterval(), logger)
	dispatcher := notify.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.Workers, logger,
		notify.NewLogSink(logger), hub)

	walletService := service.NewWalletService(walletRepo, cfg.Wallet.MinRecharge, cfg.Wallet.MaxRecharge, logger)
	bookingService := service.NewBookingService(bookingRepo, sessionRepo, hostRepo,
		walletService, gate, dispatcher, cfg.BookingTimeout(), logger)
	sweeper := service.NewSweeper(bookingService, cfg.SweepInterval(), logger)

	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	sessionHandler := handlers.NewSessionHandler(bookingService, walletService, logger)
	walletHandler := handlers.NewWalletHandler(walletService, logger)
	hostEventsHandler := handlers.NewHostEventsHandler(hub, hostRepo, logger)

	routes := httpserver.Routes{
		CreateBooking:  bookingHandler.Create,
		AcceptBooking:  bookingHandler.Accept,
		DeclineBooking: bookingHandler.Decline,
		CancelBooking:  bookingHandler.Cancel,
		GetBooking:     bookingHandler.Get,
		BookingsMe:     bookingHandler.ListMe,

		CompleteSession: sessionHandler.Complete,
		CancelSession:   sessionHandler.Cancel,
		RateSession:     sessionHandler.Rate,
		SessionsMe:      sessionHandler.ListMe,

		WalletRecharge:     walletHandler.Recharge,
		WalletBalance:      walletHandler.Balance,
		WalletTransactions: walletHandler.Transactions,

		HostEvents: hostEventsHandler.Serve,
		Health:     handlers.NewHealthHandler(),
		Metrics:    metrics.Handler(),
	}

	router := httpserver.NewRouter(routes, middleware.Auth(cfg.Auth.JWTSecret), middleware.Metrics)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		sweeper:     sweeper,
		hub:         hub,
		dispatcher:  dispatcher,
		pool:        pool,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the background loops and the HTTP server, blocking until the
// context ends.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)
	go a.sweeper.Run(ctx)
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	a.dispatcher.Stop()
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
