package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/stablep2p/backend/docs"
	"github.com/stablep2p/backend/internal/config"
	"github.com/stablep2p/backend/internal/database"
	"github.com/stablep2p/backend/internal/events"
	"github.com/stablep2p/backend/internal/handlers"
	"github.com/stablep2p/backend/internal/hsm"
	mW "github.com/stablep2p/backend/internal/middleware"
	"github.com/stablep2p/backend/internal/services"
	"github.com/stablep2p/backend/internal/store"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Stablecoin P2P Wallet API
// @version 1.0
// @description Wallet ledger, P2P escrow trades and two-phase withdrawals
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("store.driver", "STORE_DRIVER")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.migrate", "DATABASE_MIGRATE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("hsm.master_key", "HSM_MASTER_KEY")
	viper.BindEnv("hsm.key_id", "HSM_KEY_ID")
	viper.BindEnv("hsm.salt", "HSM_SALT")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("withdrawal.code_length", "WITHDRAWAL_CODE_LENGTH")
	viper.BindEnv("withdrawal.code_ttl", "WITHDRAWAL_CODE_TTL")
	viper.BindEnv("withdrawal.max_attempts", "WITHDRAWAL_MAX_ATTEMPTS")
	viper.BindEnv("withdrawal.confirm_rate_limit", "WITHDRAWAL_CONFIRM_RATE_LIMIT")
	viper.BindEnv("withdrawal.rate_limit_window", "WITHDRAWAL_RATE_LIMIT_WINDOW")
	viper.BindEnv("withdrawal.networks", "WITHDRAWAL_NETWORKS")

	viper.BindEnv("events.sinks", "EVENTS_SINKS")
	viper.BindEnv("events.redis_prefix", "EVENTS_REDIS_PREFIX")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	viper.BindEnv("sweeper.interval", "SWEEPER_INTERVAL")
	viper.BindEnv("sweeper.batch_size", "SWEEPER_BATCH_SIZE")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
	viper.SetDefault("store.driver", "postgres")

	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var st store.Store
	switch viper.GetString("store.driver") {
	case "memory":
		log.Println("[STORE] using in-memory store")
		st = store.NewMemoryStore()
	default:
		db := database.InitDatabase(ctx)
		defer db.Close()
		st = store.NewPostgresStore(db)
	}

	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventsCfg := config.LoadEventsConfig()
	sinks := buildSinks(eventsCfg, redisClient)
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Printf("[EVENTS] failed to close publisher: %v", err)
		}
	}()

	topics := events.Topics{
		Ledger:       eventsCfg.Ledger,
		Trade:        eventsCfg.Trade,
		Withdrawal:   eventsCfg.Withdrawal,
		Payout:       eventsCfg.Payout,
		Notification: eventsCfg.Notification,
	}
	emitter := events.NewDispatcher(sinks.audit, topics, events.NewMetrics(prometheus.DefaultRegisterer))

	signer, err := hsm.InitHSM(hsm.Config{
		MasterKey: viper.GetString("hsm.master_key"),
		KeyID:     viper.GetString("hsm.key_id"),
		Salt:      []byte(viper.GetString("hsm.salt")),
	})
	if err != nil {
		log.Fatalf("Failed to initialize HSM: %v", err)
	}

	withdrawalCfg := config.LoadWithdrawalConfig()
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)

	ledgerService := services.NewLedgerService(st, emitter, metrics)
	offerService := services.NewOfferService(st)
	tradeService := services.NewTradeService(st, ledgerService, emitter, metrics)
	withdrawalService := services.NewWithdrawalService(
		st,
		ledgerService,
		signer,
		events.NewNotificationCodeSender(sinks.notify, eventsCfg.Notification),
		emitter,
		withdrawalCfg,
		metrics,
	)
	if redisClient != nil {
		withdrawalService.WithLimiter(services.NewRedisAttemptLimiter(
			redisClient, withdrawalCfg.ConfirmRateLimit, withdrawalCfg.RateLimitWindow,
		))
	}

	sweeperCfg := config.LoadSweeperConfig()
	go services.NewWithdrawalSweeper(withdrawalService, sweeperCfg.Interval, sweeperCfg.BatchSize).Run(ctx)

	mW.InitAuthMiddleware(redisClient)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	api := handlers.NewAPI(ledgerService, offerService, tradeService, withdrawalService)
	r.Route("/api/v1", api.Routes)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// eventSinks separates the audit feed from the notification transport. Only
// the audit side carries the log sink; the notification side transports
// plaintext codes and is limited to the broker sinks.
type eventSinks struct {
	audit  events.Fanout
	notify events.Fanout
}

func (s eventSinks) Close() error {
	return s.audit.Close()
}

func buildSinks(cfg *config.EventsConfig, rdb *redis.Client) eventSinks {
	sinks := eventSinks{audit: events.Fanout{events.NewLogPublisher()}}

	if cfg.HasSink("kafka") {
		if len(cfg.KafkaBrokers) == 0 {
			log.Println("[EVENTS] kafka sink configured without brokers, skipping")
		} else if kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers); err != nil {
			log.Printf("[EVENTS] kafka unavailable, skipping sink: %v", err)
		} else {
			sinks.audit = append(sinks.audit, kp)
			sinks.notify = append(sinks.notify, kp)
		}
	}

	if cfg.HasSink("redis") {
		if rdb == nil {
			log.Println("[EVENTS] redis sink configured but redis is unavailable, skipping")
		} else {
			rp := events.NewRedisPublisher(rdb, cfg.RedisPrefix)
			sinks.audit = append(sinks.audit, rp)
			sinks.notify = append(sinks.notify, rp)
		}
	}

	if len(sinks.notify) == 0 {
		log.Println("[EVENTS] no notification sink configured, withdrawal codes will not be delivered")
	}
	return sinks
}
