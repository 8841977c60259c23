// cmd/api/main.go
// Main entry point for the matchmaking service
// This file bootstraps all components and starts the server

package main

import (
    "bufio"
    "context"
    "errors"
    "net"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/gorilla/mux"
    "github.com/joho/godotenv"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/rs/cors"
    "go.uber.org/zap"

    // Internal packages
    "github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/database"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/logging"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/config"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/connection"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/guard"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/matching"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/messaging"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

var startTime = time.Now()

func main() {
    // 1. Load environment variables
    envErr := godotenv.Load()

    // 2. Load and validate configuration
    cfg := config.Load()

    // 3. Logger
    logger, err := logging.New(cfg.Environment, cfg.LogLevel)
    if err != nil {
        panic(err)
    }
    defer logger.Sync()

    if envErr != nil {
        logger.Info("no .env file found, using environment variables")
    }
    if err := cfg.Validate(); err != nil {
        logger.Fatal("configuration validation failed", zap.Error(err))
    }

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // 4. Connect to PostgreSQL
    db, err := database.NewPostgresDBFromURL(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
    if err != nil {
        logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
    }
    defer db.Close()

    if err := runMigrations(ctx, db, logger); err != nil {
        logger.Fatal("failed to run migrations", zap.Error(err))
    }
    logger.Info("connected to PostgreSQL")

    // 5. Connect to Redis; every coordination key lives there
    redisClient, err := database.NewRedisClientFromURL(ctx, cfg.RedisURL, cfg.RedisPoolSize)
    if err != nil {
        logger.Fatal("failed to connect to Redis", zap.Error(err))
    }
    st := store.New(redisClient, logger)
    defer st.Close()
    logger.Info("connected to Redis")

    authMiddleware := auth.NewMiddleware(cfg.JWTSecret, logger)

    // 6. Profiles
    profileRepo := profile.NewPostgresRepository(db)
    profileCache := profile.NewCache(st, profileRepo, profile.DefaultVocabulary(), cfg.ProfileTTL, logger)
    profileService := profile.NewService(profileRepo, profileCache)
    profileHandler := profile.NewHandler(profileService, logger)

    // 7. Guards
    g := guard.New(st, logger)

    // 8. Presence, routing and ledgers
    presence := messaging.NewPresence(st, cfg.PresenceTTL, cfg.SocketTTL)
    router := messaging.NewRouter(st, cfg.RouterChannel, logger)
    ledger := messaging.NewLedger(st, messaging.NewPostgresRepository(db), messaging.LedgerConfig{
        HistoryLimit: cfg.ChatHistoryLimit,
        ChatTTL:      cfg.ChatTTL,
        TypingTTL:    cfg.TypingTTL,
        Channel:      router.Channel(),
    }, logger)
    notifications := messaging.NewNotifications(st, router, logger)

    // 9. Match queue
    queue := matching.NewQueue(st, profileCache, matching.QueueConfig{
        ScanLimit:  cfg.MatchScanLimit,
        PopTimeout: cfg.QueuePopTimeout,
    }, logger)

    // 10. Connection lifecycle
    coordinator := connection.NewCoordinator(st, connection.NewPostgresRepository(db), queue, profileCache, router, notifications, connection.Config{
        ChatDuration:         cfg.ChatDuration,
        ExtendedChatDuration: cfg.ExtendedChatDuration,
        VoteTTL:              cfg.VoteTTL,
        SessionTTL:           cfg.SessionTTL,
        TombstoneTTL:         cfg.SessionTombstoneTTL,
        ArchiveHorizon:       cfg.ArchiveHorizon,
    }, logger)
    connection.NewSweeper(coordinator, cfg.SweepInterval, logger).Start(ctx)

    // 11. Websocket gateway
    messagingService := messaging.NewService(messaging.ServiceDeps{
        Presence:      presence,
        Router:        router,
        Ledger:        ledger,
        Notifications: notifications,
        Queue:         queue,
        Chats:         coordinator,
        Limiter:       g,
    }, messaging.ServiceConfig{
        ChatRateLimit:  cfg.ChatRateLimit,
        ChatRateWindow: cfg.ChatRateWindow,
    }, logger)

    hub := messaging.NewHub(messagingService, messaging.HubConfig{
        PingPeriod:     cfg.PingPeriod,
        AllowedOrigins: cfg.AllowedOrigins,
    }, logger)
    go hub.Run()

    if err := router.Subscribe(ctx, hub); err != nil {
        logger.Fatal("failed to subscribe to router channel", zap.Error(err))
    }

    // 12. Matcher
    matching.NewWorker(queue, coordinator, matching.WorkerConfig{
        RadiusKm:    cfg.MatchRadiusKm,
        Candidates:  cfg.MatchCandidates,
        MissBackoff: cfg.MatchMissBackoff,
    }, logger).Start(ctx)

    // 13. Routes
    r := mux.NewRouter()
    r.HandleFunc("/health", healthCheck(st)).Methods("GET")
    if cfg.MetricsEnabled {
        r.Handle("/metrics", promhttp.Handler()).Methods("GET")
    }

    // The profile routes run on chi and must be mounted before the
    // /api/v1/match subrouter claims the prefix.
    r.PathPrefix("/api/v1/match/profile").Handler(profile.NewRouter(profileHandler, authMiddleware.Authenticate))

    matching.RegisterRoutes(r, matching.NewHandler(queue, cfg.MatchRadiusKm, cfg.MatchCandidates, logger), authMiddleware.Authenticate, g, matching.RouteConfig{
        JoinRateLimit:  cfg.QueueRateLimit,
        JoinRateWindow: cfg.QueueRateWindow,
        IdempotencyTTL: cfg.IdempotencyTTL,
    })
    connection.RegisterRoutes(r, connection.NewHandler(coordinator, logger), authMiddleware.Authenticate, g, connection.RouteConfig{
        VoteRateLimit:  cfg.VoteRateLimit,
        VoteRateWindow: cfg.VoteRateWindow,
        IdempotencyTTL: cfg.IdempotencyTTL,
    })

    messagingHandler := messaging.NewHandler(messagingService, hub, logger)
    messaging.RegisterRoutes(r, messagingHandler, authMiddleware.Authenticate)
    messaging.RegisterHealthCheck(r, messagingHandler)


    // 14. Create and start HTTP server
    srv := &http.Server{
        Addr:         ":" + cfg.Port,
        Handler:      newHTTPHandler(r, logger, cfg.AllowedOrigins),
        ReadTimeout:  15 * time.Second,
        WriteTimeout: 15 * time.Second,
        IdleTimeout:  60 * time.Second,
    }

    go func() {
        logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Fatal("failed to start server", zap.Error(err))
        }
    }()

    // 15. Wait for interrupt signal
    quit := make(chan os.Signal, 1)
    signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
    <-quit
    logger.Info("shutdown signal received")

    // Stops the matcher, the sweeper and the router subscription
    cancel()

    logger.Info("shutting down websocket hub")
    hub.Shutdown()

    shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer shutdownCancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        logger.Error("server forced to shutdown", zap.Error(err))
    }
    logger.Info("server exited gracefully")
}

// healthCheck reports process uptime and whether the coordination store answers
func healthCheck(st *store.Store) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        status, code := "healthy", http.StatusOK
        if err := st.Ping(r.Context()); err != nil {
            status, code = "degraded", http.StatusServiceUnavailable
        }
        utils.RespondWithJSON(w, code, map[string]interface{}{
            "status":    status,
            "timestamp": time.Now().Format(time.RFC3339),
            "uptime":    time.Since(startTime).String(),
        })
    }
}

// newHTTPHandler applies request logging to every route and wraps the router in CORS
func newHTTPHandler(r *mux.Router, logger *zap.Logger, allowedOrigins []string) http.Handler {
    r.Use(loggingMiddleware(logger))

    corsHandler := cors.New(cors.Options{
        AllowedOrigins:   allowedOrigins,
        AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
        AllowedHeaders:   []string{"Content-Type", "Authorization", guard.IdempotencyHeader},
        AllowCredentials: true,
    })
    return corsHandler.Handler(r)
}

// loggingMiddleware logs every request with its status and duration
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
    logger = logger.Named("http")
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            start := time.Now()

            // Wrap response writer to capture status code
            wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
            next.ServeHTTP(wrapped, r)

            logger.Info("request",
                zap.String("method", r.Method),
                zap.String("uri", r.RequestURI),
                zap.String("remote_addr", r.RemoteAddr),
                zap.Int("status", wrapped.statusCode),
                zap.Duration("duration", time.Since(start)),
            )
        })
    }
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
    http.ResponseWriter
    statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
    rw.statusCode = code
    rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    hj, ok := rw.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("response writer does not support hijacking")
    }
    rw.statusCode = http.StatusSwitchingProtocols
    return hj.Hijack()
}
