package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalwatch/vitalwatch/internal/domain/scoring"
	"github.com/vitalwatch/vitalwatch/internal/domain/telemetry"
	"github.com/vitalwatch/vitalwatch/internal/platform/cache"
)

// SignalSource provides the telemetry series behind a risk score.
type SignalSource interface {
	ExtractSignals(ctx context.Context, patientID uuid.UUID, metricID string, lookback time.Duration) ([]telemetry.Observation, []telemetry.MedicationAdherence)
}

// Policy carries the tunable triage behaviors that are deployment decisions,
// not code decisions.
type Policy struct {
	// RankIncludeAcknowledged keeps acknowledged alerts in the ranked active
	// set until they resolve.
	RankIncludeAcknowledged bool
	// AllowDirectAcknowledge permits acknowledging a pending alert without a
	// prior claim.
	AllowDirectAcknowledge bool
	// SignalLookback bounds how far back the scorer looks for telemetry.
	SignalLookback time.Duration
}

type Service struct {
	repo    AlertRepository
	signals SignalSource
	scorer  *scoring.Scorer
	sla     SLAPolicy
	policy  Policy
	cache   *cache.QueueCache
	logger  zerolog.Logger
}

// NewService wires the triage service. cache may be nil; the queue then always
// reads from Postgres.
func NewService(repo AlertRepository, signals SignalSource, scorer *scoring.Scorer, sla SLAPolicy, policy Policy, queueCache *cache.QueueCache, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		signals: signals,
		scorer:  scorer,
		sla:     sla,
		policy:  policy,
		cache:   queueCache,
		logger:  logger,
	}
}

// CreateAlertInput is the ingestion payload from the rule engine.
type CreateAlertInput struct {
	OrganizationID uuid.UUID        `json:"organization_id"`
	PatientID      uuid.UUID        `json:"patient_id"`
	RuleID         uuid.UUID        `json:"rule_id"`
	MetricID       string           `json:"metric_id"`
	Severity       Severity         `json:"severity"`
	Message        *string          `json:"message,omitempty"`
	ContextJSON    *json.RawMessage `json:"context,omitempty"`
	TriggeredAt    *time.Time       `json:"triggered_at,omitempty"`
}

func (in CreateAlertInput) validate() error {
	if in.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization_id is required", ErrValidation)
	}
	if in.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if in.RuleID == uuid.Nil {
		return fmt.Errorf("%w: rule_id is required", ErrValidation)
	}
	if strings.TrimSpace(in.MetricID) == "" {
		return fmt.Errorf("%w: metric_id is required", ErrValidation)
	}
	if !in.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, in.Severity)
	}
	return nil
}

// CreateAlert scores the triggered condition, fixes its SLA deadline, persists
// it as pending, and refreshes the organization's ranking.
func (s *Service) CreateAlert(ctx context.Context, in CreateAlertInput) (*Alert, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	triggeredAt := now
	if in.TriggeredAt != nil {
		triggeredAt = in.TriggeredAt.UTC()
	}

	observations, adherence := s.signals.ExtractSignals(ctx, in.PatientID, in.MetricID, s.policy.SignalLookback)
	result := s.scorer.Score(string(in.Severity), in.MetricID, observations, adherence)
	components, err := json.Marshal(result.Components)
	if err != nil {
		return nil, fmt.Errorf("marshal score components: %w", err)
	}
	raw := json.RawMessage(components)

	a := &Alert{
		OrganizationID:  in.OrganizationID,
		PatientID:       in.PatientID,
		RuleID:          in.RuleID,
		MetricID:        in.MetricID,
		Severity:        in.Severity,
		Status:          StatusPending,
		RiskScore:       result.RiskScore,
		ScoreComponents: &raw,
		Message:         in.Message,
		ContextJSON:     in.ContextJSON,
		TriggeredAt:     triggeredAt,
		SLABreachAt:     s.sla.BreachTime(in.Severity, triggeredAt),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("alert_id", a.ID.String()).
		Str("organization_id", a.OrganizationID.String()).
		Str("severity", string(a.Severity)).
		Float64("risk_score", a.RiskScore).
		Time("sla_breach_at", a.SLABreachAt).
		Msg("alert created")

	s.refreshRanks(ctx, a.OrganizationID)
	if refreshed, err := s.repo.GetByID(ctx, a.ID); err == nil {
		return refreshed, nil
	}
	return a, nil
}

func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByOrg(ctx context.Context, orgID uuid.UUID, status *Status, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListByOrg(ctx, orgID, status, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// rankStatuses is the active set for ranking and the triage queue.
func (s *Service) rankStatuses() []Status {
	statuses := []Status{StatusPending, StatusClaimed}
	if s.policy.RankIncludeAcknowledged {
		statuses = append(statuses, StatusAcknowledged)
	}
	return statuses
}

// TriageQueue returns the organization's ranked active alerts, served from the
// Redis snapshot when one is fresh.
func (s *Service) TriageQueue(ctx context.Context, orgID uuid.UUID) ([]*Alert, error) {
	if s.cache != nil {
		var cached []*Alert
		hit, err := s.cache.Get(ctx, orgID.String(), &cached)
		if err != nil {
			s.logger.Warn().Err(err).Str("organization_id", orgID.String()).Msg("queue cache read failed")
		} else if hit {
			return cached, nil
		}
	}

	queue, err := s.repo.ListQueue(ctx, orgID, s.rankStatuses())
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, orgID.String(), queue); err != nil {
			s.logger.Warn().Err(err).Str("organization_id", orgID.String()).Msg("queue cache write failed")
		}
	}
	return queue, nil
}

// RecalculateRanks rewrites the organization's dense priority ranking from the
// current active set. Re-running against an unchanged set produces the
// identical assignment.
func (s *Service) RecalculateRanks(ctx context.Context, orgID uuid.UUID) (int, error) {
	active, err := s.repo.ListActiveByOrg(ctx, orgID, s.rankStatuses())
	if err != nil {
		return 0, err
	}
	sortForRanking(active)

	assignments := make([]RankAssignment, len(active))
	for i, a := range active {
		assignments[i] = RankAssignment{AlertID: a.ID, Rank: i + 1}
	}
	if err := s.repo.ReplaceRanks(ctx, orgID, assignments); err != nil {
		return 0, err
	}
	s.invalidateQueue(ctx, orgID)

	s.logger.Info().
		Str("organization_id", orgID.String()).
		Int("ranked", len(assignments)).
		Msg("priority ranks recalculated")
	return len(assignments), nil
}

// RefreshAllRanks recalculates every organization that has active alerts.
// Failures are logged per organization and do not stop the sweep.
func (s *Service) RefreshAllRanks(ctx context.Context) error {
	orgs, err := s.repo.ListOrgsWithActive(ctx)
	if err != nil {
		return err
	}
	for _, orgID := range orgs {
		if _, err := s.RecalculateRanks(ctx, orgID); err != nil {
			s.logger.Error().Err(err).Str("organization_id", orgID.String()).Msg("rank refresh failed")
		}
	}
	return nil
}

func (s *Service) refreshRanks(ctx context.Context, orgID uuid.UUID) {
	if _, err := s.RecalculateRanks(ctx, orgID); err != nil {
		s.logger.Error().Err(err).Str("organization_id", orgID.String()).Msg("rank refresh failed")
	}
}

func (s *Service) invalidateQueue(ctx context.Context, orgID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orgID.String()); err != nil {
		s.logger.Warn().Err(err).Str("organization_id", orgID.String()).Msg("queue cache invalidation failed")
	}
}

// Claim assigns the alert to a clinician. The underlying write is a single
// conditional update, so when several clinicians race for the same alert
// exactly one wins; the rest get ErrClaimConflict.
func (s *Service) Claim(ctx context.Context, alertID, clinicianID uuid.UUID) (*Alert, error) {
	now := time.Now().UTC()
	won, err := s.repo.TryClaim(ctx, alertID, clinicianID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		a, err := s.repo.GetByID(ctx, alertID)
		if err != nil {
			return nil, err
		}
		switch {
		case a.Status.Terminal():
			return nil, ErrTerminalState
		case a.Status == StatusClaimed:
			return nil, ErrClaimConflict
		default:
			return nil, ErrInvalidTransition
		}
	}

	s.logger.Info().
		Str("alert_id", alertID.String()).
		Str("clinician_id", clinicianID.String()).
		Msg("alert claimed")
	return s.repo.GetByID(ctx, alertID)
}

func (s *Service) acknowledge(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrTerminalState
	}
	switch a.Status {
	case StatusClaimed:
	case StatusPending:
		if !s.policy.AllowDirectAcknowledge {
			return nil, ErrInvalidTransition
		}
	default:
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Acknowledge moves a claimed alert to acknowledged.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.acknowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("alert_id", id.String()).Msg("alert acknowledged")
	s.refreshRanks(ctx, a.OrganizationID)
	return a, nil
}

// BulkAckItem records why one alert in a batch was skipped.
type BulkAckItem struct {
	AlertID uuid.UUID `json:"alert_id"`
	Reason  string    `json:"reason"`
}

// BulkAckResult reports a batch acknowledgment. A partially failed batch is a
// result, not an error: every processable alert is acknowledged.
type BulkAckResult struct {
	Acknowledged []uuid.UUID   `json:"acknowledged"`
	Skipped      []BulkAckItem `json:"skipped"`
}

// BulkAcknowledge acknowledges each alert independently. Alerts in an
// ineligible state are reported as skipped with a reason and the batch
// continues.
func (s *Service) BulkAcknowledge(ctx context.Context, ids []uuid.UUID) (*BulkAckResult, error) {
	result := &BulkAckResult{
		Acknowledged: []uuid.UUID{},
		Skipped:      []BulkAckItem{},
	}
	touchedOrgs := map[uuid.UUID]struct{}{}

	for _, id := range ids {
		a, err := s.acknowledge(ctx, id)
		if err != nil {
			result.Skipped = append(result.Skipped, BulkAckItem{AlertID: id, Reason: err.Error()})
			continue
		}
		result.Acknowledged = append(result.Acknowledged, id)
		touchedOrgs[a.OrganizationID] = struct{}{}
	}

	for orgID := range touchedOrgs {
		s.refreshRanks(ctx, orgID)
	}
	s.logger.Info().
		Int("acknowledged", len(result.Acknowledged)).
		Int("skipped", len(result.Skipped)).
		Msg("bulk acknowledge processed")
	return result, nil
}

// Resolve closes an acknowledged alert. Resolution notes are mandatory for
// the clinical audit trail.
func (s *Service) Resolve(ctx context.Context, id, resolvedBy uuid.UUID, notes string, timeSpentMinutes *int) (*Alert, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("%w: resolution_notes is required", ErrValidation)
	}
	if timeSpentMinutes != nil && *timeSpentMinutes < 0 {
		return nil, fmt.Errorf("%w: time_spent_minutes must not be negative", ErrValidation)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrTerminalState
	}
	if a.Status != StatusAcknowledged {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	a.Status = StatusResolved
	a.ResolvedBy = &resolvedBy
	a.ResolvedAt = &now
	a.ResolutionNotes = &notes
	a.TimeSpentMinutes = timeSpentMinutes
	a.PriorityRank = nil
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("alert_id", id.String()).
		Str("resolved_by", resolvedBy.String()).
		Msg("alert resolved")
	s.refreshRanks(ctx, a.OrganizationID)
	return a, nil
}

// Snooze parks a pending or claimed alert until the given time. Any existing
// claim is released so the alert returns to pending when the snooze expires.
func (s *Service) Snooze(ctx context.Context, id uuid.UUID, until time.Time) (*Alert, error) {
	if !until.After(time.Now()) {
		return nil, fmt.Errorf("%w: snooze_until must be in the future", ErrValidation)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrTerminalState
	}
	if a.Status != StatusPending && a.Status != StatusClaimed {
		return nil, ErrInvalidTransition
	}

	until = until.UTC()
	a.Status = StatusSnoozed
	a.SnoozedUntil = &until
	a.ClaimedBy = nil
	a.ClaimedAt = nil
	a.PriorityRank = nil
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("alert_id", id.String()).
		Time("snoozed_until", until).
		Msg("alert snoozed")
	s.refreshRanks(ctx, a.OrganizationID)
	return a, nil
}

// Suppress discards a pending alert as a false positive. Suppression is
// terminal.
func (s *Service) Suppress(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrTerminalState
	}
	if a.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	a.Status = StatusSuppressed
	a.PriorityRank = nil
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().Str("alert_id", id.String()).Msg("alert suppressed")
	s.refreshRanks(ctx, a.OrganizationID)
	return a, nil
}

// Rescore recomputes the risk score from fresh telemetry. The SLA deadline is
// deliberately untouched; only RecalculateSLA may move it.
func (s *Service) Rescore(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrTerminalState
	}

	observations, adherence := s.signals.ExtractSignals(ctx, a.PatientID, a.MetricID, s.policy.SignalLookback)
	result := s.scorer.Score(string(a.Severity), a.MetricID, observations, adherence)
	components, err := json.Marshal(result.Components)
	if err != nil {
		return nil, fmt.Errorf("marshal score components: %w", err)
	}
	if err := s.repo.UpdateScore(ctx, id, result.RiskScore, components); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("alert_id", id.String()).
		Float64("old_risk_score", a.RiskScore).
		Float64("new_risk_score", result.RiskScore).
		Msg("alert rescored")

	raw := json.RawMessage(components)
	a.RiskScore = result.RiskScore
	a.ScoreComponents = &raw
	s.refreshRanks(ctx, a.OrganizationID)
	return a, nil
}

// RecalculateSLA reapplies the current SLA policy to the alert's original
// trigger time. This is the only operation that moves a breach deadline, and
// it logs both values.
func (s *Service) RecalculateSLA(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrTerminalState
	}

	newBreachAt := s.sla.BreachTime(a.Severity, a.TriggeredAt)
	s.logger.Info().
		Str("alert_id", id.String()).
		Time("old_sla_breach_at", a.SLABreachAt).
		Time("new_sla_breach_at", newBreachAt).
		Msg("alert sla recalculated")

	if err := s.repo.UpdateSLABreachTime(ctx, id, newBreachAt); err != nil {
		return nil, err
	}
	a.SLABreachAt = newBreachAt
	return a, nil
}

// ReactivateExpiredSnoozes returns alerts whose snooze has lapsed to pending
// and refreshes the affected organizations' rankings. Intended to run on a
// periodic sweep.
func (s *Service) ReactivateExpiredSnoozes(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpiredSnoozes(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	touchedOrgs := map[uuid.UUID]struct{}{}
	reactivated := 0
	for _, a := range expired {
		a.Status = StatusPending
		a.SnoozedUntil = nil
		if err := s.repo.Update(ctx, a); err != nil {
			s.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("snooze reactivation failed")
			continue
		}
		reactivated++
		touchedOrgs[a.OrganizationID] = struct{}{}
	}
	for orgID := range touchedOrgs {
		s.refreshRanks(ctx, orgID)
	}

	if reactivated > 0 {
		s.logger.Info().Int("reactivated", reactivated).Msg("expired snoozes returned to pending")
	}
	return reactivated, nil
}
