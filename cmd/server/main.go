package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vladfaust/simularity-sub001/internal/config"
	"github.com/vladfaust/simularity-sub001/internal/gpt"
	"github.com/vladfaust/simularity-sub001/internal/httpapi"
	"github.com/vladfaust/simularity-sub001/internal/nodeapi"
	"github.com/vladfaust/simularity-sub001/internal/registry"
	"github.com/vladfaust/simularity-sub001/internal/store/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := gpt.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	reg := registry.NewRedisRegistry(rdb, cfg.InferenceNodeTTL)
	nodes := nodeapi.NewClient(cfg.InferenceNodeSecret)

	var queue gpt.DestroyQueue
	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		// Deferred destroys then stay queued in the DB only.
		log.Printf("rabbit dial failed, destroy reconciliation disabled: %v", err)
	} else {
		defer publisher.Close()
		queue = publisher
	}

	svc := gpt.NewService(gpt.NewRepo(db), reg, nodes, gpt.Options{
		DestroyQueue:        queue,
		Attempts:            cfg.NodeCallAttempts,
		AllowAnySessionDump: cfg.AllowAnySessionDump,
	})

	router := httpapi.NewRouter(cfg, svc, reg)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Printf("server listening addr=%s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
