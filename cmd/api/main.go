package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaykit/eventrelay/internal/adapters/handler"
	"github.com/relaykit/eventrelay/internal/adapters/middleware"
	"github.com/relaykit/eventrelay/internal/adapters/repository"
	"github.com/relaykit/eventrelay/internal/config"
	"github.com/relaykit/eventrelay/internal/core/domain"
	"github.com/relaykit/eventrelay/internal/core/ports"
	"github.com/relaykit/eventrelay/internal/core/services"
)

func init() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis is not available yet: %v. App will continue and retry later.", err)
	}

	if err := bootstrapAdmin(ctx, adminRepo, cfg); err != nil {
		log.Printf("Warning: admin bootstrap failed: %v", err)
	}

	authService := services.NewAuthService(adminRepo, cfg.JWTPrivateKey, redisClient)
	userService := services.NewUserService(userRepo, cfg.Environment)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTPublicKey, redisClient)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health endpoints
	mux.HandleFunc("/health", healthHandler.Health)
	mux.HandleFunc("/health/ready", healthHandler.Ready)
	mux.HandleFunc("/health/live", healthHandler.Live)

	// API endpoints
	mux.HandleFunc("POST /login", authHandler.Login)

	mux.Handle("POST /logout",
		authMiddleware.RequireRole([]string{"ADMIN"}, http.HandlerFunc(authHandler.Logout)),
	)

	mux.Handle("POST /users",
		authMiddleware.RequireRole([]string{"ADMIN"}, http.HandlerFunc(userHandler.Create)),
	)

	mux.Handle("POST /users/discharge",
		authMiddleware.RequireRole([]string{"ADMIN"}, http.HandlerFunc(userHandler.Discharge)),
	)

	// Middleware chain: CORS -> Metrics
	corsRouter := middleware.CORSMiddleware(cfg.CORSAllowedOrigins)(mux)
	loggedRouter := middleware.MetricsMiddleware(corsRouter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      loggedRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis: %v", err)
	}

	log.Println("Server gracefully stopped")
}

// bootstrapAdmin creates the privileged account from ADMIN_EMAIL and
// ADMIN_PASSWORD when it does not exist yet. Skipped when either
// variable is unset.
func bootstrapAdmin(ctx context.Context, adminRepo ports.AdminRepository, cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	if _, err := adminRepo.FindByEmail(ctx, cfg.AdminEmail); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := domain.Admin{
		ID:           uuid.NewString(),
		Email:        cfg.AdminEmail,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := adminRepo.Create(ctx, admin); err != nil {
		return err
	}
	log.Printf("Bootstrapped admin account %s", cfg.AdminEmail)
	return nil
}
