// Package api contains the HTTP handlers for the workflow service.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"opzenix/backend/internal/engine"
	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
)

// Server holds the dependencies for the API server.
type Server struct {
	Definitions repository.DefinitionStore
	Runs        repository.RunStore
	StepLogs    repository.StepLogStore
	Workflows   *engine.Service
	Logger      *logging.Logger
}

// NewServer creates a new Server.
func NewServer(definitions repository.DefinitionStore, runs repository.RunStore, stepLogs repository.StepLogStore, workflows *engine.Service, logger *logging.Logger) *Server {
	return &Server{
		Definitions: definitions,
		Runs:        runs,
		StepLogs:    stepLogs,
		Workflows:   workflows,
		Logger:      logger,
	}
}

// RegisterRoutes mounts the API handlers onto the given group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/workflows", s.ListWorkflows)
	g.PUT("/workflows", s.PutWorkflow)
	g.POST("/workflows/trigger", s.TriggerWorkflow)
	g.GET("/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.GET("/runs/:id/steps", s.GetRunSteps)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "opzenix-workflows",
		Version:   "1.0.0",
	})
}
