/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the settlement message broker, the repository, the core ledger
 * service, the reconciliation scheduler, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for transfer rate limiting.
 * - github.com/robfig/cron/v3: Scheduler for the stalled-transfer reconciler.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for the settlement exchange.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ferrobank/ledger-service/internal/api"
	"github.com/ferrobank/ledger-service/internal/app"
	"github.com/ferrobank/ledger-service/internal/config"
	"github.com/ferrobank/ledger-service/internal/store"
	rmrabbit "github.com/ferrobank/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s bank_prefix=%s", cfg.ServerPort, cfg.BankPrefix)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the settlement producer. Losing it does not prevent boot:
	// internal transfers keep working and external transfers are refused with
	// an immediate hold reversal until the channel comes back.
	var settlementPublisher rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.SettlementExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"settlement producer unavailable; external transfers will be reversed on submit\" err=%v", err)
	} else {
		defer producer.Close()
		settlementPublisher = producer
		log.Println("level=info component=bootstrap msg=\"settlement producer connected\"")
	}

	var redisClient *redis.Client
	if cfg.TransferRateLimitPerMin > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; transfer rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; transfer rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; transfer rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core ledger service with its dependencies.
	ledgerService := app.NewService(
		repository,
		settlementPublisher,
		app.NewCurrencyPolicy(cfg.AllowedCurrencyList()),
		app.NewAccountNumberAllocator(cfg.BankPrefix),
	)
	ledgerService.SetSettlementTimeout(time.Duration(cfg.SettlementTimeoutMinutes) * time.Minute)
	if redisClient != nil {
		ledgerService.SetTransferRateLimiter(
			app.NewRedisTransferRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.TransferRateLimitPerMin,
		)
	}

	// Initialize the API handlers and routes.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService)
	router := api.Routes(ledgerHandlers, cfg.JWKSURL)

	// Wire up the settlement status consumer: bind to the confirmation routing
	// keys the settlement network publishes on.
	settlementConsumer := ledgerService.SettlementConsumer()

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"settlement consumer unavailable; relying on reconciler for stalled transfers\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		settlementBindings := map[string]func([]byte) bool{
			"settlement.transfer.processing": settlementConsumer.HandleMessage,
			"settlement.transfer.successful": settlementConsumer.HandleMessage,
			"settlement.transfer.failed":     settlementConsumer.HandleMessage,
		}

		if err := rabbitConsumer.ConsumeWithBindings(cfg.SettlementExchange, cfg.SettlementEventQueue, settlementBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
		}
	}

	// Schedule the reconciler to reverse external transfers stalled past the
	// settlement timeout.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		reversed, err := ledgerService.ReconcileStalledTransfers(ctx)
		if err != nil {
			log.Printf("level=error component=reconciler msg=\"reconcile run failed\" err=%v", err)
			return
		}
		if reversed > 0 {
			log.Printf("level=info component=reconciler msg=\"stalled transfers reversed\" count=%d", reversed)
		}
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconcile schedule invalid\" schedule=%q err=%v", cfg.ReconcileSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
