package main

import (
	"context"
	"log"
	"os"

	"github.com/opentracing/opentracing-go"
	"github.com/urfave/cli/v2"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/database"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/server"
	"github.com/mailsweep/mailsweep/services/cache"
	"github.com/mailsweep/mailsweep/services/classifier"
	"github.com/mailsweep/mailsweep/services/imap"
	"github.com/mailsweep/mailsweep/services/llm"
	"github.com/mailsweep/mailsweep/services/worker"
)

func main() {
	app := &cli.App{
		Name:  "mailsweep",
		Usage: "LLM-driven IMAP mailbox cleaning engine",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: runServer,
			},
			{
				Name:   "worker",
				Usage:  "Execute one batch from the MANIFEST environment variable",
				Action: runWorker,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}
	db, err := database.NewConnection(cfg.AppConfig.DBPath)
	if err != nil {
		return err
	}
	if err := repository.MigrateDB(db); err != nil {
		return err
	}
	log.Println("Database migration completed successfully")
	return nil
}

func runServer(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}
	db, err := database.NewConnection(cfg.AppConfig.DBPath)
	if err != nil {
		return err
	}
	if err := repository.MigrateDB(db); err != nil {
		return err
	}

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return err
	}
	return srv.Run()
}

// runWorker is the sibling-process entrypoint. A non-nil error becomes a
// non-zero exit code, which the orchestrator reads as a crashed batch.
func runWorker(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}

	m, err := manifest.FromEnv()
	if err != nil {
		return err
	}

	dbPath := m.DBPath
	if dbPath == "" {
		dbPath = cfg.AppConfig.DBPath
	}
	db, err := database.NewConnection(dbPath)
	if err != nil {
		return err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err == nil {
		opentracing.SetGlobalTracer(tracer)
		defer closer.Close()
	}

	repos := repository.InitRepositories(db)
	cacheService := cache.NewCacheService(repos.CacheRepository, repos.SettingsRepository)
	classifierService := classifier.NewClassifierService(appLogger, llm.NewAnthropicClient(cfg.AnthropicConfig), cacheService)
	dialer := imap.NewDialer(appLogger, repos.SettingsRepository)

	workerService := worker.NewWorkerService(
		appLogger,
		repos.CredentialRepository,
		repos.SettingsRepository,
		repos.RunRepository,
		repos.ActionRepository,
		repos.EventRepository,
		repos.FolderJobRepository,
		dialer,
		classifierService,
	)

	return workerService.Run(context.Background(), m, nil)
}
