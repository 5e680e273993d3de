package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SignalRepository interface {
	ListObservations(ctx context.Context, patientID uuid.UUID, metricID string, since time.Time) ([]Observation, error)
	ListAdherence(ctx context.Context, patientID uuid.UUID, since time.Time) ([]MedicationAdherence, error)
}
