package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openlms/auth-service/internal/api"
	"github.com/openlms/auth-service/internal/config"
	"github.com/openlms/auth-service/internal/handler"
	"github.com/openlms/auth-service/internal/infrastructure/kafka"
	"github.com/openlms/auth-service/internal/infrastructure/redis"
	"github.com/openlms/auth-service/internal/observability"
	repository "github.com/openlms/auth-service/internal/repository/postgres"
	service "github.com/openlms/auth-service/internal/services"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdownTracing := observability.Setup("auth-service")
	defer shutdownTracing(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := repository.NewPostgresUserRepository(db)
	tokenStore := redis.NewClient(cfg.RedisAddr)
	defer tokenStore.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	svc := service.NewAuthService(userRepo, tokenStore, producer, service.Config{
		JWTSecret:            cfg.JWTSecret,
		AccessTokenTTL:       cfg.AccessTokenTTL,
		RefreshTokenTTL:      cfg.RefreshTokenTTL,
		ResetTokenTTL:        cfg.ResetTokenTTL,
		VerificationTokenTTL: cfg.VerificationTokenTTL,
	})

	h := handler.NewHandler(svc)
	router := api.SetupRouter(h, svc)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
