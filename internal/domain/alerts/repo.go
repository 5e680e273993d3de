package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RankAssignment pairs an alert with its new dense priority rank.
type RankAssignment struct {
	AlertID uuid.UUID
	Rank    int
}

type AlertRepository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	Update(ctx context.Context, a *Alert) error

	// TryClaim is the single atomic conditional write in the system: it
	// succeeds iff the alert is pending and unclaimed. The boolean reports
	// whether this caller won the claim.
	TryClaim(ctx context.Context, id, clinicianID uuid.UUID, at time.Time) (bool, error)

	// UpdateScore persists a recomputed risk score and component breakdown
	// without touching any SLA or lifecycle field.
	UpdateScore(ctx context.Context, id uuid.UUID, score float64, components []byte) error

	// UpdateSLABreachTime is reserved for the explicit, logged SLA
	// recalculation operation.
	UpdateSLABreachTime(ctx context.Context, id uuid.UUID, breachAt time.Time) error

	ListActiveByOrg(ctx context.Context, orgID uuid.UUID, statuses []Status) ([]*Alert, error)

	// ReplaceRanks clears the organization's priority ranks and writes the
	// assignments in a single transaction: all-or-nothing.
	ReplaceRanks(ctx context.Context, orgID uuid.UUID, assignments []RankAssignment) error

	ListByOrg(ctx context.Context, orgID uuid.UUID, status *Status, limit, offset int) ([]*Alert, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error)
	ListQueue(ctx context.Context, orgID uuid.UUID, statuses []Status) ([]*Alert, error)

	ListExpiredSnoozes(ctx context.Context, now time.Time) ([]*Alert, error)
	ListOrgsWithActive(ctx context.Context) ([]uuid.UUID, error)
}
