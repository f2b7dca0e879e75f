package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"smart-locker-backend/config"
	"smart-locker-backend/internal/api"
	"smart-locker-backend/internal/booking"
	"smart-locker-backend/internal/control"
	"smart-locker-backend/internal/db"
	"smart-locker-backend/internal/display"
	"smart-locker-backend/internal/hardware"
	"smart-locker-backend/internal/monitor"
	"smart-locker-backend/internal/notification"
	"smart-locker-backend/internal/pairing"
	"smart-locker-backend/internal/session"
	"smart-locker-backend/internal/store"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "lockerd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	appStore := store.NewGormStore(gormDB)

	// The ephemeral pairing state is shared with the web server through
	// Redis; the web side arms pairing, this daemon drives it.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatalf("failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
	}
	pairingStore := pairing.NewRedisStore(redisClient)
	logger.Println("ephemeral store connected")

	// Hardware wiring. Without a configured bus device the in-memory
	// simulator stands in, so the daemon can run on a development machine.
	var bus hardware.Bus
	if cfg.Hardware.BusDevice != "" {
		i2c, err := hardware.OpenI2C(cfg.Hardware.BusDevice)
		if err != nil {
			logger.Fatalf("failed to open bus: %v", err)
		}
		defer i2c.Close()
		bus = i2c
	} else {
		logger.Println("no bus device configured, using the simulator")
		bus = hardware.NewSimBus(5 * time.Second)
	}
	gateway := hardware.NewGateway(bus, cfg.Hardware.Lockers)

	var reader hardware.CardReader = &hardware.SimCardReader{}
	var keypad hardware.Keypad = &hardware.SimKeypad{}
	screen := display.NewScreen(display.Console{}, cfg.Hardware.DisplayWidth)

	registry := session.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification worker pool
	pool := notification.NewWorkerPool(&cfg.Notification, appStore, &webpushOptions)
	pool.Start(ctx)

	// Background monitor draining in-flight sessions
	monitorSvc := monitor.NewService(registry, gateway, appStore, pool, cfg.Monitor.Interval)
	go monitorSvc.Run(ctx)

	// Main control loop: pairing mode or card scanning
	bookingSvc := booking.NewService(appStore, registry, gateway, screen, pool)
	machine := pairing.NewMachine(cfg, pairingStore, appStore, reader, keypad, screen, bookingSvc, pool)
	loop := control.NewLoop(cfg, pairingStore, machine, bookingSvc, reader, screen, appStore)
	go loop.Run(ctx)

	// Local status API
	router := api.NewRouter(&cfg.Server, appStore, registry, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
