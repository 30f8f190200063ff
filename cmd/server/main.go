package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/iorran/superfriday/internal/auth"
	"github.com/iorran/superfriday/internal/config"
	"github.com/iorran/superfriday/internal/db"
	"github.com/iorran/superfriday/internal/logger"
	"github.com/iorran/superfriday/internal/server"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	issueTokenFlag  = flag.Uint("issue-token", 0, "Print a bearer token for the given user id and exit")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()
	cfg := config.Load()
	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Warn().Err(err).Msg("invalid log configuration, using defaults")
	}

	if *issueTokenFlag != 0 {
		fmt.Println(auth.Token(cfg.SecretKey, uint(*issueTokenFlag)))
		return
	}

	dbConn, err := db.ConnectAndMigrate(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if *migrateOnlyFlag {
		log.Info().Msg("migrations completed; exiting as requested")
		return
	}

	deps, err := server.NewDeps(dbConn, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("dependency setup failed")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(deps, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
