package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatesql/gatesql/internal/config"
	"github.com/gatesql/gatesql/internal/crypt"
	"github.com/gatesql/gatesql/internal/dispatch"
	"github.com/gatesql/gatesql/internal/logging"
	"github.com/gatesql/gatesql/internal/observability"
	"github.com/gatesql/gatesql/internal/registry"
	"github.com/gatesql/gatesql/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	listen := flag.String("listen", "", "override gateway listen address")
	adminListen := flag.String("admin", "", "override admin listen address")
	keyFile := flag.String("keyfile", "", "override key bundle path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.ConfigureRuntime("")
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *adminListen != "" {
		cfg.AdminListen = *adminListen
	}
	if *keyFile != "" {
		cfg.KeyFile = *keyFile
	}
	logging.ConfigureRuntime(cfg.LogFile)

	cipher, err := crypt.EnsureKeyBundle(cfg.KeyFile)
	if err != nil {
		log.Fatal().Err(err).Str("keyfile", cfg.KeyFile).Msg("key bundle unavailable")
	}

	reg := registry.New(cfg.Constants)
	dispatcher := dispatch.New(dispatch.DBConfig{
		Driver:         cfg.Database.Driver,
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		ConnectTimeout: cfg.Database.ConnectTimeout.Std(),
	}, reg)

	gateway := server.New(server.Options{
		Listen:         cfg.Listen,
		MaxConnections: cfg.Limits.MaxConnections,
		MaxDBWorkers:   cfg.Limits.MaxDBWorkers,
		IdleTimeout:    cfg.Limits.IdleTimeout.Std(),
	}, cipher, dispatcher)
	if err := gateway.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway start failed")
	}

	admin := &http.Server{
		Addr:    cfg.AdminListen,
		Handler: observability.AdminRouter("gatesqld", time.Now(), cfg.CorsOrigins),
	}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin listener failed")
		}
	}()
	log.Info().Str("admin", cfg.AdminListen).Str("driver", cfg.Database.Driver).Msg("gatesqld up")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	admin.Close()
	gateway.Close()
}
