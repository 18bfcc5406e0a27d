package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"valentine-link-api/internal/cache"
	"valentine-link-api/internal/config"
	"valentine-link-api/internal/database"
	"valentine-link-api/internal/events"
	"valentine-link-api/internal/features"
	"valentine-link-api/internal/handler"
	"valentine-link-api/internal/middleware"
	"valentine-link-api/internal/mpesa"
	"valentine-link-api/internal/service"
	"valentine-link-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "valentine-link-api",
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			log.Printf("Failed to shut down tracing: %v", err)
		}
	}()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize payment engine
	location, err := time.LoadLocation(cfg.Payment.TimeZone)
	if err != nil {
		log.Fatalf("Failed to load payment time zone %q: %v", cfg.Payment.TimeZone, err)
	}
	parser := mpesa.NewParser(cfg.Payment.RecipientName, location)
	validator := mpesa.NewValidatorWithOptions(parser, db.CodeInUse, mpesa.ValidatorOptions{
		MaxAge:  time.Duration(cfg.Payment.MaxAgeMinutes) * time.Minute,
		MaxSkew: time.Duration(cfg.Payment.MaxSkewMinutes) * time.Minute,
		Prices:  mpesa.DefaultPrices(),
	})

	// Initialize cache
	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		c = redisCache
		log.Printf("Cache: redis at %s", cfg.Cache.RedisAddr)
	} else {
		c = cache.NewInMemoryCache()
		log.Print("Cache: in-memory")
	}

	// Initialize events; accepted payments are logged for the
	// pending-verification review queue.
	ev := events.NewManager(true)
	defer ev.Shutdown()
	ev.Subscribe(events.EventPaymentAccepted, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.PaymentAcceptedData); ok {
			log.Printf("Payment accepted for %s: code=%s amount=Ksh%s (pending verification)",
				data.Slug, data.Code, data.Amount)
		}
		return nil
	})

	// Initialize service and handlers
	svc := service.NewService(db, validator, ev, c, features.NewManager())
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	h.Routes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting HTTP server on %s", addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Printf("Payment recipient: %s (%s)", cfg.Payment.RecipientName, cfg.Payment.TimeZone)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
