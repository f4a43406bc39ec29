// metacat HTTP server
// Registers metadata types and serves dataset resolution and search
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/echa/config"

	"github.com/opengeocube/metacat/internal/logger"
	"github.com/opengeocube/metacat/internal/metrics"
	"github.com/opengeocube/metacat/internal/server"
)

var (
	listenAddr = flag.String("listen", "", "API listen address (overrides config)")
	obsPort    = flag.Int("obs-port", 0, "Observability port (overrides config)")
	dbPath     = flag.String("db", "", "Catalog database file path (overrides config)")
	schemaDir  = flag.String("schemas", "", "Directory of metadata-type schema files loaded at startup")
	confName   = flag.String("config", "", "Config file name")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func setDefaults() {
	config.SetDefault("server.listen", ":8080")
	config.SetDefault("server.obs_port", 9090)
	config.SetDefault("server.shutdown_timeout", 15*time.Second)
	config.SetDefault("catalog.path", "metacat.db")
	config.SetDefault("catalog.schema_dir", "")
	config.SetDefault("catalog.stats_interval", 30*time.Second)
	config.SetDefault("logging.level", "info")
	config.SetDefault("logging.pretty", false)
}

func loadConfig() {
	config.SetEnvPrefix("METACAT")
	if *confName != "" {
		config.SetConfigName(*confName)
	}
	realconf := config.ConfigName()
	if _, err := os.Stat(realconf); err == nil {
		if err := config.ReadConfigFile(); err != nil {
			fmt.Printf("Could not read config %s: %v\n", realconf, err)
			os.Exit(1)
		}
	}

	// flags win over config file and env
	if *listenAddr != "" {
		config.Set("server.listen", *listenAddr)
	}
	if *obsPort != 0 {
		config.Set("server.obs_port", *obsPort)
	}
	if *dbPath != "" {
		config.Set("catalog.path", *dbPath)
	}
	if *schemaDir != "" {
		config.Set("catalog.schema_dir", *schemaDir)
	}
	if *logLevel != "" {
		config.Set("logging.level", *logLevel)
	}
}

func main() {
	flag.Parse()
	setDefaults()
	loadConfig()

	logger.InitGlobalLogger(logger.Config{
		Level:  config.GetString("logging.level"),
		Pretty: config.GetBool("logging.pretty"),
	})
	log := logger.GetGlobalLogger()

	addr := config.GetString("server.listen")
	catalogPath := config.GetString("catalog.path")
	log.LogServerStart(addr, catalogPath)

	m := metrics.NewMetrics()

	srv, err := server.NewServer(catalogPath, log, m)
	if err != nil {
		log.Fatal("failed to open catalog").Err(err).Send()
	}
	defer srv.Close()

	if dir := config.GetString("catalog.schema_dir"); dir != "" {
		if err := loadSchemas(srv, dir, log); err != nil {
			log.Fatal("failed to load schemas").Str("dir", dir).Err(err).Send()
		}
	}

	apiServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	obs := server.NewObservabilityServer(config.GetInt("server.obs_port"), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := obs.Start(); err != nil {
			log.Error("observability server stopped").Err(err).Send()
		}
	}()
	go srv.StartStatsLoop(ctx, config.GetDuration("catalog.stats_interval"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.LogServerShutdown()
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(),
			config.GetDuration("server.shutdown_timeout"))
		defer done()
		_ = obs.Shutdown(shutdownCtx)
		_ = apiServer.Shutdown(shutdownCtx)
	}()

	log.LogServerReady(addr)
	if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("API server failed").Err(err).Send()
	}
}

// loadSchemas registers every YAML schema file found in dir. Files that
// fail validation abort startup: a half-registered catalog is worse
// than a clean failure.
func loadSchemas(srv *server.Server, dir string, log *logger.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mt, rev, err := srv.Store().PutType(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Info("metadata type loaded").
			Str("file", path).
			Str("type", mt.Name).
			Uint64("revision", rev).
			Send()
	}
	return nil
}
