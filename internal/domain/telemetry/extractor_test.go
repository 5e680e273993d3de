package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockSignalRepo struct {
	observations []Observation
	adherence    []MedicationAdherence
	obsErr       error
	adhErr       error
	obsDelay     time.Duration
}

func (m *mockSignalRepo) ListObservations(ctx context.Context, patientID uuid.UUID, metricID string, since time.Time) ([]Observation, error) {
	if m.obsDelay > 0 {
		select {
		case <-time.After(m.obsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.obsErr != nil {
		return nil, m.obsErr
	}
	return m.observations, nil
}

func (m *mockSignalRepo) ListAdherence(ctx context.Context, patientID uuid.UUID, since time.Time) ([]MedicationAdherence, error) {
	if m.adhErr != nil {
		return nil, m.adhErr
	}
	return m.adherence, nil
}

func TestExtractSignals_ReturnsBothSeries(t *testing.T) {
	repo := &mockSignalRepo{
		observations: []Observation{{Value: 120}, {Value: 125}},
		adherence:    []MedicationAdherence{{AdherenceScore: 0.9}},
	}
	e := NewExtractor(repo, time.Second, zerolog.Nop())

	obs, adh := e.ExtractSignals(context.Background(), uuid.New(), "systolic_bp", 7*24*time.Hour)
	if len(obs) != 2 {
		t.Errorf("expected 2 observations, got %d", len(obs))
	}
	if len(adh) != 1 {
		t.Errorf("expected 1 adherence record, got %d", len(adh))
	}
}

func TestExtractSignals_EmptyIsNotError(t *testing.T) {
	e := NewExtractor(&mockSignalRepo{}, time.Second, zerolog.Nop())

	obs, adh := e.ExtractSignals(context.Background(), uuid.New(), "systolic_bp", 7*24*time.Hour)
	if len(obs) != 0 || len(adh) != 0 {
		t.Errorf("expected empty series, got %d/%d", len(obs), len(adh))
	}
}

func TestExtractSignals_ObservationErrorDegrades(t *testing.T) {
	repo := &mockSignalRepo{
		obsErr:    fmt.Errorf("connection refused"),
		adherence: []MedicationAdherence{{AdherenceScore: 0.5}},
	}
	e := NewExtractor(repo, time.Second, zerolog.Nop())

	obs, adh := e.ExtractSignals(context.Background(), uuid.New(), "systolic_bp", 7*24*time.Hour)
	if len(obs) != 0 {
		t.Errorf("expected empty observations on store error, got %d", len(obs))
	}
	if len(adh) != 1 {
		t.Errorf("adherence fetch should survive observation failure, got %d", len(adh))
	}
}

func TestExtractSignals_AdherenceErrorDegrades(t *testing.T) {
	repo := &mockSignalRepo{
		observations: []Observation{{Value: 120}},
		adhErr:       fmt.Errorf("connection refused"),
	}
	e := NewExtractor(repo, time.Second, zerolog.Nop())

	obs, adh := e.ExtractSignals(context.Background(), uuid.New(), "systolic_bp", 7*24*time.Hour)
	if len(obs) != 1 {
		t.Errorf("observation fetch should survive adherence failure, got %d", len(obs))
	}
	if len(adh) != 0 {
		t.Errorf("expected empty adherence on store error, got %d", len(adh))
	}
}

func TestExtractSignals_TimeoutDegrades(t *testing.T) {
	repo := &mockSignalRepo{
		observations: []Observation{{Value: 120}},
		obsDelay:     200 * time.Millisecond,
		adherence:    []MedicationAdherence{{AdherenceScore: 0.5}},
	}
	e := NewExtractor(repo, 10*time.Millisecond, zerolog.Nop())

	obs, adh := e.ExtractSignals(context.Background(), uuid.New(), "systolic_bp", 7*24*time.Hour)
	if len(obs) != 0 {
		t.Errorf("expected empty observations on timeout, got %d", len(obs))
	}
	if len(adh) != 1 {
		t.Errorf("adherence fetch should still succeed, got %d", len(adh))
	}
}
