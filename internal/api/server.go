// Package api exposes the engine's operations over HTTP. Authentication
// is the reverse proxy's job, not this layer's.
package api

import (
	"context"
	"net/http"
	"time"

	"automation-hub/internal/config"
	"automation-hub/internal/cron"
	"automation-hub/internal/engine"
	"automation-hub/internal/gitsync"
	"automation-hub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Server wires the gin router to the engine.
type Server struct {
	engine   *engine.Engine
	store    *store.Store
	cfg      *config.Config
	syncer   *gitsync.Syncer
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   zerolog.Logger
	router   *gin.Engine
	srv      *http.Server
}

func New(eng *engine.Engine, st *store.Store, cfg *config.Config, syncer *gitsync.Syncer, logger zerolog.Logger) (*Server, error) {
	validate := validator.New()
	if err := validate.RegisterValidation("cronexpr", cronExprValidator); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   eng,
		store:    st,
		cfg:      cfg,
		syncer:   syncer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		validate: validate,
		logger:   logger.With().Str("component", "api").Logger(),
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: s.router,
	}
	return s, nil
}

func cronExprValidator(fl validator.FieldLevel) bool {
	return cron.Valid(fl.Field().String())
}

func (s *Server) registerRoutes() {
	apiGroup := s.router.Group("/api")

	apiGroup.GET("/health", s.handleHealth)

	apiGroup.GET("/playbooks", s.handlePlaybookList)
	apiGroup.POST("/playbooks/sync", s.handlePlaybookSync)

	apiGroup.POST("/jobs", s.handleSubmit)
	apiGroup.GET("/jobs", s.handleHistory)
	apiGroup.GET("/jobs/stats", s.handleStats)
	apiGroup.DELETE("/jobs", s.handlePurge)
	apiGroup.GET("/jobs/:id", s.handleJobStatus)
	apiGroup.POST("/jobs/:id/cancel", s.handleJobCancel)
	apiGroup.GET("/jobs/:id/stream", s.handleJobStream)

	apiGroup.GET("/servers", s.handleServerList)
	apiGroup.POST("/servers", s.handleServerCreate)
	apiGroup.GET("/servers/:id", s.handleServerGet)
	apiGroup.PUT("/servers/:id", s.handleServerUpdate)
	apiGroup.DELETE("/servers/:id", s.handleServerDelete)

	apiGroup.GET("/schedules", s.handleScheduleList)
	apiGroup.POST("/schedules", s.handleScheduleCreate)
	apiGroup.GET("/schedules/:id", s.handleScheduleGet)
	apiGroup.PUT("/schedules/:id", s.handleScheduleUpdate)
	apiGroup.DELETE("/schedules/:id", s.handleScheduleDelete)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("Starting server")
	return s.srv.ListenAndServe()
}

func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
