package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalwatch/vitalwatch/internal/platform/db"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

// conn resolves to the transaction attached to the context, if any, so
// multi-statement operations share a single commit.
func (r *alertRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertColumns = `
	id, organization_id, patient_id, rule_id, metric_id, severity, status,
	risk_score, score_components, priority_rank, message, context_json,
	triggered_at, sla_breach_at,
	claimed_by, claimed_at, acknowledged_at, snoozed_until,
	resolved_by, resolved_at, resolution_notes, time_spent_minutes,
	created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.PatientID, &a.RuleID, &a.MetricID, &a.Severity, &a.Status,
		&a.RiskScore, &a.ScoreComponents, &a.PriorityRank, &a.Message, &a.ContextJSON,
		&a.TriggeredAt, &a.SLABreachAt,
		&a.ClaimedBy, &a.ClaimedAt, &a.AcknowledgedAt, &a.SnoozedUntil,
		&a.ResolvedBy, &a.ResolvedAt, &a.ResolutionNotes, &a.TimeSpentMinutes,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAlerts(rows pgx.Rows) ([]*Alert, error) {
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO alert (
			id, organization_id, patient_id, rule_id, metric_id, severity, status,
			risk_score, score_components, message, context_json,
			triggered_at, sla_breach_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.OrganizationID, a.PatientID, a.RuleID, a.MetricID, a.Severity, a.Status,
		a.RiskScore, a.ScoreComponents, a.Message, a.ContextJSON,
		a.TriggeredAt, a.SLABreachAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alert WHERE id = $1`, id)
	return scanAlert(row)
}

func (r *alertRepoPG) Update(ctx context.Context, a *Alert) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET
			status = $2, risk_score = $3, score_components = $4, priority_rank = $5,
			claimed_by = $6, claimed_at = $7, acknowledged_at = $8, snoozed_until = $9,
			resolved_by = $10, resolved_at = $11, resolution_notes = $12, time_spent_minutes = $13,
			updated_at = $14
		WHERE id = $1`,
		a.ID, a.Status, a.RiskScore, a.ScoreComponents, a.PriorityRank,
		a.ClaimedBy, a.ClaimedAt, a.AcknowledgedAt, a.SnoozedUntil,
		a.ResolvedBy, a.ResolvedAt, a.ResolutionNotes, a.TimeSpentMinutes,
		a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TryClaim compares and swaps in a single statement so two clinicians racing
// for the same alert cannot both win.
func (r *alertRepoPG) TryClaim(ctx context.Context, id, clinicianID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert
		SET status = $2, claimed_by = $3, claimed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5 AND claimed_by IS NULL`,
		id, StatusClaimed, clinicianID, at.UTC(), StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *alertRepoPG) UpdateScore(ctx context.Context, id uuid.UUID, score float64, components []byte) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET risk_score = $2, score_components = $3, updated_at = NOW()
		WHERE id = $1`,
		id, score, components)
	if err != nil {
		return fmt.Errorf("update alert score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *alertRepoPG) UpdateSLABreachTime(ctx context.Context, id uuid.UUID, breachAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET sla_breach_at = $2, updated_at = NOW()
		WHERE id = $1`,
		id, breachAt.UTC())
	if err != nil {
		return fmt.Errorf("update alert sla: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *alertRepoPG) ListActiveByOrg(ctx context.Context, orgID uuid.UUID, statuses []Status) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertColumns+`
		FROM alert
		WHERE organization_id = $1 AND status = ANY($2)
		ORDER BY risk_score DESC, triggered_at ASC, id ASC`,
		orgID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// ReplaceRanks clears every rank in the organization and writes the new dense
// assignment inside one transaction. Readers never observe a partial ranking.
func (r *alertRepoPG) ReplaceRanks(ctx context.Context, orgID uuid.UUID, assignments []RankAssignment) error {
	return db.WithTx(ctx, r.pool, func(txCtx context.Context) error {
		conn := r.conn(txCtx)
		if _, err := conn.Exec(txCtx, `
			UPDATE alert SET priority_rank = NULL, updated_at = NOW()
			WHERE organization_id = $1 AND priority_rank IS NOT NULL`, orgID); err != nil {
			return fmt.Errorf("clear ranks: %w", err)
		}
		for _, asn := range assignments {
			if _, err := conn.Exec(txCtx, `
				UPDATE alert SET priority_rank = $2, updated_at = NOW()
				WHERE id = $1`, asn.AlertID, asn.Rank); err != nil {
				return fmt.Errorf("assign rank %d to alert %s: %w", asn.Rank, asn.AlertID, err)
			}
		}
		return nil
	})
}

func (r *alertRepoPG) ListByOrg(ctx context.Context, orgID uuid.UUID, status *Status, limit, offset int) ([]*Alert, int, error) {
	var (
		total int
		err   error
	)
	if status != nil {
		err = r.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM alert WHERE organization_id = $1 AND status = $2`,
			orgID, *status).Scan(&total)
	} else {
		err = r.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM alert WHERE organization_id = $1`, orgID).Scan(&total)
	}
	if err != nil {
		return nil, 0, err
	}

	var rows pgx.Rows
	if status != nil {
		rows, err = r.conn(ctx).Query(ctx, `
			SELECT `+alertColumns+`
			FROM alert
			WHERE organization_id = $1 AND status = $2
			ORDER BY triggered_at DESC, id ASC
			LIMIT $3 OFFSET $4`,
			orgID, *status, limit, offset)
	} else {
		rows, err = r.conn(ctx).Query(ctx, `
			SELECT `+alertColumns+`
			FROM alert
			WHERE organization_id = $1
			ORDER BY triggered_at DESC, id ASC
			LIMIT $2 OFFSET $3`,
			orgID, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAlerts(rows)
	return items, total, err
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM alert WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertColumns+`
		FROM alert
		WHERE patient_id = $1
		ORDER BY triggered_at DESC, id ASC
		LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAlerts(rows)
	return items, total, err
}

func (r *alertRepoPG) ListQueue(ctx context.Context, orgID uuid.UUID, statuses []Status) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertColumns+`
		FROM alert
		WHERE organization_id = $1 AND status = ANY($2)
		ORDER BY priority_rank ASC NULLS LAST, risk_score DESC, triggered_at ASC, id ASC`,
		orgID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

func (r *alertRepoPG) ListExpiredSnoozes(ctx context.Context, now time.Time) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertColumns+`
		FROM alert
		WHERE status = $1 AND snoozed_until IS NOT NULL AND snoozed_until <= $2
		ORDER BY snoozed_until ASC`,
		StatusSnoozed, now.UTC())
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

func (r *alertRepoPG) ListOrgsWithActive(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT organization_id FROM alert
		WHERE status = ANY($1)`,
		statusStrings([]Status{StatusPending, StatusClaimed, StatusAcknowledged}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}
