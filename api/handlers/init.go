package handlers

import (
	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/services"
)

// Handlers carries the dependencies every endpoint closes over.
type Handlers struct {
	log      logger.Logger
	cfg      *config.Config
	repos    *repository.Repositories
	services *services.Services
}

func InitHandlers(log logger.Logger, cfg *config.Config, repos *repository.Repositories, s *services.Services) *Handlers {
	return &Handlers{
		log:      log,
		cfg:      cfg,
		repos:    repos,
		services: s,
	}
}
