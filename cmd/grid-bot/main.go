package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/crypto-grid-bot/internal/bot"
	"github.com/ducminhle1904/crypto-grid-bot/internal/config"
	"github.com/ducminhle1904/crypto-grid-bot/internal/monitoring"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., grid_bybit.json)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		demo       = flag.Bool("demo", true, "Use demo trading environment - paper trading (default: true)")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	fmt.Println("🚀 Grid Bot Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *demo && cfg.Exchange.Bybit != nil {
		cfg.Exchange.Bybit.Demo = true
		cfg.Exchange.Bybit.Testnet = false
	}

	health := monitoring.NewHealthChecker()
	if cfg.Monitoring.Enabled {
		startMonitoringServers(cfg.Monitoring, health)
	}

	supervisor, err := bot.NewSupervisor(cfg, health)
	if err != nil {
		log.Fatalf("Failed to create supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n🛑 Shutdown signal received...")
		cancel()
	}()

	if err := supervisor.Run(ctx); err != nil {
		log.Fatalf("Supervisor failed: %v", err)
	}

	fmt.Println("✅ Bot stopped successfully")
}

// startMonitoringServers serves the metrics and health endpoints
func startMonitoringServers(cfg config.MonitoringConfig, health *monitoring.HealthChecker) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", health)

	go serveHTTP(fmt.Sprintf(":%d", cfg.MetricsPort), metricsMux, "metrics")
	go serveHTTP(fmt.Sprintf(":%d", cfg.HealthPort), healthMux, "health")
}

func serveHTTP(addr string, handler http.Handler, name string) {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Warning: %s server stopped: %v", name, err)
	}
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}
