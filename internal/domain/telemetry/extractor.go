package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Extractor fetches the observation and adherence series feeding the risk
// scorer. Healthcare telemetry is sparse, so a missing or failing signal is
// normal operating territory: each series is fetched under its own bounded
// timeout and degrades to an empty slice instead of failing the caller. The
// scorer treats an empty series as a neutral component.
type Extractor struct {
	repo    SignalRepository
	timeout time.Duration
	logger  zerolog.Logger
}

func NewExtractor(repo SignalRepository, timeout time.Duration, logger zerolog.Logger) *Extractor {
	return &Extractor{repo: repo, timeout: timeout, logger: logger}
}

// ExtractSignals returns the chronologically ordered observation and
// adherence series for a patient/metric over the lookback window. Both
// slices may be empty; neither condition is an error.
func (e *Extractor) ExtractSignals(ctx context.Context, patientID uuid.UUID, metricID string, lookback time.Duration) ([]Observation, []MedicationAdherence) {
	since := time.Now().Add(-lookback)

	obsCtx, cancelObs := context.WithTimeout(ctx, e.timeout)
	defer cancelObs()
	observations, err := e.repo.ListObservations(obsCtx, patientID, metricID, since)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Str("metric_id", metricID).
			Msg("observation fetch failed, scoring with empty series")
		observations = nil
	}

	adhCtx, cancelAdh := context.WithTimeout(ctx, e.timeout)
	defer cancelAdh()
	adherence, err := e.repo.ListAdherence(adhCtx, patientID, since)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Msg("adherence fetch failed, scoring with empty series")
		adherence = nil
	}

	return observations, adherence
}
