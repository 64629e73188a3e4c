package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/posterly/order-engine/internal/adapter/handler"
	"github.com/posterly/order-engine/internal/adapter/notify"
	"github.com/posterly/order-engine/internal/adapter/storage"
	"github.com/posterly/order-engine/internal/core/service"
	"github.com/posterly/order-engine/internal/port"
	"github.com/posterly/order-engine/pkg/metrics"
)

type config struct {
	HTTPAddr       string
	MySQLDSN       string
	RedisAddr      string
	KafkaBrokers   string
	KafkaTopic     string
	OutboxInterval time.Duration
	OutboxBatch    int
}

func readConfig() config {
	cfg := config{
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		MySQLDSN:       envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/posterly?parseTime=true"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:     envOr("KAFKA_TOPIC", "order-events"),
		OutboxInterval: 2 * time.Second,
		OutboxBatch:    100,
	}
	if v := os.Getenv("OUTBOX_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OutboxInterval = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg := readConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	log.Println("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	log.Println("connected to redis")

	orderStore := storage.NewMySQLStore(db)
	if err := orderStore.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	cartStore := storage.NewRedisCartStore(rdb)

	orderMetrics := metrics.NewOrderMetrics()
	serverMetrics := metrics.NewServerMetrics("order_engine")

	var publisher port.Publisher = notify.LogPublisher{}
	var kafkaPublisher *notify.KafkaPublisher
	if cfg.KafkaBrokers != "" {
		kafkaPublisher = notify.NewKafkaPublisher(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		publisher = kafkaPublisher
		log.Printf("publishing order events to %s", cfg.KafkaTopic)
	}

	orderService := service.NewOrderService(orderStore, cartStore, orderMetrics)
	dispatcher := notify.NewDispatcher(orderStore, publisher, orderMetrics, cfg.OutboxInterval, cfg.OutboxBatch)
	go dispatcher.Run(ctx)

	httpHandler := handler.NewHTTPHandler(orderService, serverMetrics)
	mux := http.NewServeMux()
	httpHandler.Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	// Stop the dispatcher, then flush whatever is still pending.
	cancel()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	dispatcher.Flush(flushCtx)
	flushCancel()

	if kafkaPublisher != nil {
		kafkaPublisher.Close()
	}
	rdb.Close()
	db.Close()
	log.Println("connections closed")
}
