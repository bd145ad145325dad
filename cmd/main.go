package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"eventreg/cmd/buildCFG"
	"eventreg/internal/api/api"
	rabbitReader "eventreg/internal/consumerWorker"
	"eventreg/internal/mailer"
	"eventreg/internal/metrics"
	"eventreg/internal/rabbit"
	"eventreg/internal/registration"
	"eventreg/internal/repo"
	"eventreg/internal/service"
	"eventreg/internal/storage"
	"eventreg/internal/validation"
	"eventreg/internal/wizard"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "EVENTREG"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	port := serverCfg.Port

	dbCfg, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}

	var (
		repository    repo.Repository
		db            *dbpg.DB
		migrationPath string
	)
	switch dbCfg.Driver {
	case buildCFG.DriverMemory:
		repository = repo.NewMemory()
	default:
		db, err = dbpg.New(dbCfg.MasterDSN, dbCfg.SlaveDSNs, dbCfg.Options)
		if err != nil {
			log.Fatal().Msgf("failed to connect to DB: %v", err)
		}
		if err := db.Master.Ping(); err != nil {
			log.Fatal().Msgf("DB ping failed: %v", err)
		}
		log.Info().Msg("Database connected successfully")

		repository, err = repo.NewRepository(db, &log)
		if err != nil {
			log.Fatal().Msgf("failed to initialize repository: %v", err)
		}
		migrationPath = dbCfg.MigrationsDir
		if !filepath.IsAbs(migrationPath) {
			cwd, err := os.Getwd()
			if err != nil {
				log.Fatal().Err(err).Msg("cannot get working directory")
			}
			migrationPath = filepath.Join(cwd, migrationPath)
		}
		if err := repository.MigrateUp(migrationPath); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("Migrations applied successfully")
	}

	storageCfg, err := buildCFG.BuildStorageConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build storage config")
	}
	var objects storage.ObjectStore
	switch storageCfg.Driver {
	case buildCFG.DriverSupabase:
		objects = storage.NewSupabase(storageCfg.SupabaseURL, storageCfg.SupabaseKey, storageCfg.Bucket, storageCfg.Timeout)
	default:
		objects = storage.NewMemoryStore("memory://" + storageCfg.Bucket)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mail := mailer.New(buildCFG.BuildMailerConfig(cfg), &log)

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var (
		notifier       registration.Notifier = mail
		rmq            *rabbit.Client
		rabbitReaderer *rabbitReader.Reader
	)
	if rabbitCfg.Enabled() {
		rmq, err = rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
		if err != nil {
			log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rmq.Close()

		rabbitReaderer = rabbitReader.NewReader(rmq, mail)
		rabbitReaderer.Start(workerCtx)
		notifier = rmq
	}

	engine := validation.New(buildCFG.BuildValidationRules(cfg))
	workflow := registration.New(repository, storage.NewAdapter(objects, &log), engine, notifier, m, &log)
	serviceInstance := service.NewService(workflow, wizard.New(engine), &log)
	app := api.NewRouters(&api.Routers{
		Service:  serviceInstance,
		Metrics:  m,
		Gatherer: registry,
		Mode:     serverCfg.Mode,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}

	cancelWorkers()
	if rabbitReaderer != nil {
		rabbitReaderer.Stop()
	}

	if db != nil {
		if dbCfg.MigrateDownOnExit {
			log.Info().Msg("Rolling back migrations...")
			if err := repository.MigrateDown(migrationPath); err != nil {
				log.Error().Msgf("failed to rollback migrations: %v", err)
			} else {
				log.Info().Msg("Migrations rolled back successfully")
			}
		}
		_ = db.Master.Close()
	}
	log.Info().Msg("Shutdown complete")
}
