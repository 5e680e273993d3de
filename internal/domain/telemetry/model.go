package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Observation is a single vital-sign reading recorded for a patient. The
// monitoring ingestion pipeline owns these rows; this service only reads them.
type Observation struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	MetricID   string    `db:"metric_id" json:"metric_id"`
	Value      float64   `db:"value" json:"value"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	Context    *string   `db:"context" json:"context,omitempty"`
}

// MedicationAdherence is a per-dose adherence record in [0,1]. External and
// read-only, like Observation.
type MedicationAdherence struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	PatientID           uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientMedicationID uuid.UUID `db:"patient_medication_id" json:"patient_medication_id"`
	AdherenceScore      float64   `db:"adherence_score" json:"adherence_score"`
	TakenAt             time.Time `db:"taken_at" json:"taken_at"`
}
