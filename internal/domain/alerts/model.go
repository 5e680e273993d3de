package alerts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity is the categorical urgency assigned by the external rule engine.
// This service never re-evaluates rule conditions; it only consumes severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusPending      Status = "pending"
	StatusClaimed      Status = "claimed"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSnoozed      Status = "snoozed"
	StatusSuppressed   Status = "suppressed"
)

// Terminal reports whether the status is final. Terminal alerts are immutable.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusSuppressed
}

// Alert maps to the alert table: one triggered clinical condition awaiting
// staff review. triggered_at and sla_breach_at are fixed at creation; only
// the explicit SLA recalculation operation may move the deadline.
type Alert struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	RuleID         uuid.UUID `db:"rule_id" json:"rule_id"`
	MetricID       string    `db:"metric_id" json:"metric_id"`
	Severity       Severity  `db:"severity" json:"severity"`
	Status         Status    `db:"status" json:"status"`

	RiskScore       float64          `db:"risk_score" json:"risk_score"`
	ScoreComponents *json.RawMessage `db:"score_components" json:"score_components,omitempty"`
	PriorityRank    *int             `db:"priority_rank" json:"priority_rank,omitempty"`

	Message     *string          `db:"message" json:"message,omitempty"`
	ContextJSON *json.RawMessage `db:"context_json" json:"context_json,omitempty"`

	TriggeredAt time.Time `db:"triggered_at" json:"triggered_at"`
	SLABreachAt time.Time `db:"sla_breach_at" json:"sla_breach_at"`

	ClaimedBy      *uuid.UUID `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	SnoozedUntil   *time.Time `db:"snoozed_until" json:"snoozed_until,omitempty"`

	ResolvedBy       *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes  *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	TimeSpentMinutes *int       `db:"time_spent_minutes" json:"time_spent_minutes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Breached derives the SLA breach predicate. Breach is never stored: it is a
// function of the fixed deadline, the current status, and the clock.
func (a *Alert) Breached(now time.Time) bool {
	switch a.Status {
	case StatusPending, StatusClaimed, StatusAcknowledged:
		return now.After(a.SLABreachAt)
	}
	return false
}
