package services

import (
	"os"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/services/cache"
	"github.com/mailsweep/mailsweep/services/classifier"
	"github.com/mailsweep/mailsweep/services/events"
	"github.com/mailsweep/mailsweep/services/imap"
	"github.com/mailsweep/mailsweep/services/llm"
	"github.com/mailsweep/mailsweep/services/orchestrator"
	"github.com/mailsweep/mailsweep/services/scheduler"
	"github.com/mailsweep/mailsweep/services/worker"
)

type Services struct {
	Bus               *events.Bus
	CacheService      *cache.CacheService
	ClassifierService *classifier.ClassifierService
	Dialer            interfaces.IMAPDialer
	WorkerService     *worker.WorkerService
	Orchestrator      *orchestrator.Orchestrator
	Scheduler         *scheduler.Scheduler
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) *Services {
	bus := events.NewBus(log, repos.EventRepository)

	cacheService := cache.NewCacheService(repos.CacheRepository, repos.SettingsRepository)
	llmClient := llm.NewAnthropicClient(cfg.AnthropicConfig)
	classifierService := classifier.NewClassifierService(log, llmClient, cacheService)
	dialer := imap.NewDialer(log, repos.SettingsRepository)

	workerService := worker.NewWorkerService(
		log,
		repos.CredentialRepository,
		repos.SettingsRepository,
		repos.RunRepository,
		repos.ActionRepository,
		repos.EventRepository,
		repos.FolderJobRepository,
		dialer,
		classifierService,
	)

	binary := cfg.AppConfig.WorkerBinary
	if binary == "" {
		if exe, err := os.Executable(); err == nil {
			binary = exe
		}
	}
	runner := orchestrator.NewProcessRunner(log, binary)

	return &Services{
		Bus:               bus,
		CacheService:      cacheService,
		ClassifierService: classifierService,
		Dialer:            dialer,
		WorkerService:     workerService,
		Orchestrator: orchestrator.NewOrchestrator(log,
			repos.FolderJobRepository,
			repos.RunRepository,
			repos.EventRepository,
			repos.WorkerContainerRepository,
			repos.SettingsRepository,
			runner,
			cfg.AppConfig.DBPath,
		),
		Scheduler: scheduler.NewScheduler(log,
			repos.ScheduleRepository,
			repos.RunRepository,
			repos.CredentialRepository,
			repos.SettingsRepository,
			runner,
			cfg.AppConfig.DBPath,
		),
	}
}
