/*
main.go - Ledger service entry point

PURPOSE:
  Initializes and starts the inventory ledger HTTP service.

STARTUP SEQUENCE:
  1. Parse command-line flags (and optional YAML config file)
  2. Initialize SQLite store
  3. Wire the ledger service and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: ledger.db)
           Use ":memory:" for an in-memory database
  -config  Optional YAML config file; flags override it

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit
*/
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

	"gopkg.in/yaml.v3"

	"github.com/keel/stock-ledger/api"
	"github.com/keel/stock-ledger/ledger"
	"github.com/keel/stock-ledger/store/sqlite"
)

// Config is the optional YAML file shape.
type Config struct {
	Port           int      `yaml:"port"`
	Database       string   `yaml:"database"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "ledger.db", "SQLite database path")
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg := &Config{Port: *port, Database: *dbPath}
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if loaded.Port != 0 {
			cfg.Port = loaded.Port
		}
		if loaded.Database != "" {
			cfg.Database = loaded.Database
		}
		cfg.AllowedOrigins = loaded.AllowedOrigins
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "port":
				cfg.Port = *port
			case "db":
				cfg.Database = *dbPath
			}
		})
	}

	store, err := sqlite.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	service := ledger.NewService(store)
	handler := api.NewHandler(service)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Ledger service listening on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
