package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"streamgate/api"
	"streamgate/config"
	"streamgate/handlers"
	"streamgate/internal/database"
	"streamgate/services/accounts"
	"streamgate/services/devices"
	"streamgate/services/resolver"
	"streamgate/services/streamcache"
	"streamgate/utils"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	// Optional .env for local development; config file remains authoritative.
	_ = godotenv.Load()

	fmt.Println("🚀 streamgate starting...")

	configPath := os.Getenv("STREAMGATE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Environment overrides for secrets so they never need to live in the
	// settings file on shared hosts.
	if key := strings.TrimSpace(os.Getenv("RESOLVER_API_KEY")); key != "" {
		settings.Resolver.APIKey = key
	}
	if secret := strings.TrimSpace(os.Getenv("STREAMGATE_AUTH_SECRET")); secret != "" {
		settings.Server.AuthSecret = secret
	}

	// Generate the token-signing secret on first boot and persist it.
	if strings.TrimSpace(settings.Server.AuthSecret) == "" {
		secret, err := utils.GenerateAuthSecret()
		if err != nil {
			log.Fatalf("failed to generate auth secret: %v", err)
		}
		settings.Server.AuthSecret = secret
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated auth secret: %v", err)
		}
		fmt.Println("🔑 Generated new auth secret (persisted to settings).")
	}

	if settings.Resolver.APIKey == "" {
		log.Printf("warning: no resolver API key configured; upstream resolution will be rejected")
	}

	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Services
	accountsService := accounts.NewService(db)
	devicesService := devices.NewService(
		accountsService,
		settings.Devices.MaxDevices,
		time.Duration(settings.Devices.StreamTTLSeconds)*time.Second,
	)
	cacheStore := streamcache.NewStore(db)
	gateway := resolver.NewGateway(settings.Resolver.APIKey, settings.Resolver.BaseURLs, &http.Client{
		Timeout: time.Duration(settings.Resolver.TimeoutSeconds) * time.Second,
	})
	resolverService := resolver.NewService(
		gateway,
		cacheStore,
		settings.Resolver.Version,
		time.Duration(settings.Cache.FreshnessHours)*time.Hour,
		settings.Resolver.ProviderPriority,
	)

	// Background cache retention
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go cacheStore.RunReaper(
		reaperCtx,
		time.Duration(settings.Cache.ReapIntervalHours)*time.Hour,
		time.Duration(settings.Cache.RetentionDays)*24*time.Hour,
	)

	// Secret getter so a config reload takes effect without a restart.
	getSecret := func() string {
		s, err := cfgManager.Load()
		if err != nil || strings.TrimSpace(s.Server.AuthSecret) == "" {
			return settings.Server.AuthSecret
		}
		return s.Server.AuthSecret
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(accountsService, getSecret)
	streamHandler := handlers.NewStreamHandler(devicesService)
	devicesHandler := handlers.NewDevicesHandler(devicesService)
	resolverHandler := handlers.NewResolverHandler(resolverService)
	authMW := handlers.NewAuthMiddleware(getSecret)
	subscriptionMW := handlers.NewSubscriptionMiddleware(accountsService)

	r := utils.NewRouter()
	api.Register(r, authHandler, streamHandler, devicesHandler, resolverHandler, authMW, subscriptionMW)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	stopReaper()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
