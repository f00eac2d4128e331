package interfaces

import (
	"context"

	"github.com/inferloop/synthcert/pkg/models"
)

// Storage defines the lifecycle shared by every storage backend
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error
}

// RunStore persists training-run records. A run's spend is frozen once
// written; implementations reject a second finalization.
type RunStore interface {
	Storage

	// SaveRun inserts or updates a run that has not been finalized
	SaveRun(ctx context.Context, run *models.TrainingRun) error

	// GetRun reads a run by ID
	GetRun(ctx context.Context, id string) (*models.TrainingRun, error)
}

// ReportStore persists immutable evaluation reports and risk assessments
type ReportStore interface {
	Storage

	// SaveReport stores an evaluation report under its ID
	SaveReport(ctx context.Context, report *models.EvaluationReport) error

	// GetReport reads an evaluation report by ID
	GetReport(ctx context.Context, id string) (*models.EvaluationReport, error)

	// SaveAssessment stores a risk assessment under its ID
	SaveAssessment(ctx context.Context, assessment *models.RiskAssessment) error

	// GetAssessment reads a risk assessment by ID
	GetAssessment(ctx context.Context, id string) (*models.RiskAssessment, error)
}
