package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"opzenix/backend/internal/config"
	"opzenix/backend/internal/logging"
	"opzenix/backend/internal/repository"
	"opzenix/backend/pkg/models"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.NewLogger(true)
	defer logger.Sync()

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	// 1. Ensure the dev tenant exists.
	domain := "localhost"
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("Creating default tenant", "domain", domain)
		tenant = &models.Tenant{
			Name:   "Local Dev Tenant",
			Domain: domain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			log.Fatalf("Failed to create tenant: %v", err)
		}
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	// 2. Skip workflows that already exist.
	existing, err := store.ListDefinitions(ctx, tenant.ID)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	existingNames := make(map[string]bool)
	for _, def := range existing {
		existingNames[def.Name] = true
	}

	// 3. Seed demo workflows.
	for _, def := range seedWorkflows(tenant.ID) {
		if existingNames[def.Name] {
			logger.Info("Skipping existing workflow", "name", def.Name)
			continue
		}
		if err := def.Validate(); err != nil {
			log.Fatalf("Seed workflow %s is invalid: %v", def.Name, err)
		}
		if err := store.PutDefinition(ctx, def); err != nil {
			log.Printf("Failed to create workflow %s: %v", def.Name, err)
		} else {
			logger.Info("Seeded workflow", "name", def.Name, "id", def.ID)
		}
	}
	logger.Info("Seeding complete!")
}

func seedWorkflows(tenantID string) []*models.WorkflowDefinition {
	return []*models.WorkflowDefinition{
		{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			Name:        "New Hire Onboarding",
			Description: "Creates the onboarding task record and notifies HR.",
			IsActive:    true,
			CreatedBy:   "seed-script",
			Steps: []models.WorkflowStep{
				{
					ID:   "create-task",
					Type: models.StepTypeAction,
					Config: map[string]any{
						"action_type": models.ActionCreateRecord,
						"table":       "onboarding_tasks",
						"fields":      map[string]any{"status": "pending", "kind": "new_hire"},
					},
					OnSuccess: "notify-hr",
				},
				{
					ID:   "notify-hr",
					Type: models.StepTypeNotification,
					Config: map[string]any{
						"channel": "email",
						"target":  "hr@localhost",
						"subject": "New hire onboarding started",
						"body":    "A new onboarding workflow has been triggered.",
					},
				},
			},
		},
		{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			Name:        "Overtime Alert",
			Description: "Checks reported hours and escalates when over the threshold.",
			IsActive:    true,
			CreatedBy:   "seed-script",
			Steps: []models.WorkflowStep{
				{
					ID:   "check-hours",
					Type: models.StepTypeCondition,
					Config: map[string]any{
						"field":    "input.hours",
						"operator": "greater_than",
						"value":    40,
					},
					NextStepID: "flag-record",
				},
				{
					ID:   "flag-record",
					Type: models.StepTypeAction,
					Config: map[string]any{
						"action_type": models.ActionUpdateRecord,
						"table":       "timesheets",
						"fields":      map[string]any{"flagged": true},
						"match":       map[string]any{"status": "submitted"},
					},
					OnFailure: "wait-and-notify",
					OnSuccess: "wait-and-notify",
				},
				{
					ID:   "wait-and-notify",
					Type: models.StepTypeDelay,
					Config: map[string]any{
						"seconds": 1,
					},
					NextStepID: "notify-manager",
				},
				{
					ID:   "notify-manager",
					Type: models.StepTypeNotification,
					Config: map[string]any{
						"channel": "email",
						"target":  "manager@localhost",
						"subject": "Overtime review needed",
						"body":    "A timesheet exceeded the overtime threshold.",
					},
				},
			},
		},
	}
}
