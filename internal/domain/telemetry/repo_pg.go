package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type signalRepoPG struct{ pool *pgxpool.Pool }

func NewSignalRepoPG(pool *pgxpool.Pool) SignalRepository {
	return &signalRepoPG{pool: pool}
}

func (r *signalRepoPG) ListObservations(ctx context.Context, patientID uuid.UUID, metricID string, since time.Time) ([]Observation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, metric_id, value, recorded_at, context
		FROM observation
		WHERE patient_id = $1 AND metric_id = $2 AND recorded_at >= $3
		ORDER BY recorded_at ASC`,
		patientID, metricID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PatientID, &o.MetricID, &o.Value, &o.RecordedAt, &o.Context); err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *signalRepoPG) ListAdherence(ctx context.Context, patientID uuid.UUID, since time.Time) ([]MedicationAdherence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, patient_medication_id, adherence_score, taken_at
		FROM medication_adherence
		WHERE patient_id = $1 AND taken_at >= $2
		ORDER BY taken_at ASC`,
		patientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MedicationAdherence
	for rows.Next() {
		var m MedicationAdherence
		if err := rows.Scan(&m.ID, &m.PatientID, &m.PatientMedicationID, &m.AdherenceScore, &m.TakenAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
