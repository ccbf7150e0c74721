package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"opzenix/backend/internal/auth"
	"opzenix/backend/pkg/models"
)

// ListWorkflows returns all workflow definitions for the caller's tenant.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant not found in context")
	}

	defs, err := s.Definitions.ListDefinitions(ctx, tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, defs)
}

// PutWorkflow creates or updates a workflow definition. The definition is
// validated here, at load time, so malformed graphs never reach the engine.
// (PUT /api/v1/workflows)
func (s *Server) PutWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "tenant not found in context")
	}
	def.TenantID = tenantID
	def.CreatedBy = auth.Subject(ctx)

	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	if err := def.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow definition: "+err.Error())
	}

	if err := s.Definitions.PutDefinition(ctx, &def); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save workflow: "+err.Error())
	}

	return c.JSON(http.StatusOK, def)
}
