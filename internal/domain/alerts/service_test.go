package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalwatch/vitalwatch/internal/domain/scoring"
	"github.com/vitalwatch/vitalwatch/internal/domain/telemetry"
	"github.com/vitalwatch/vitalwatch/internal/platform/cache"
)

// memRepo is an in-memory AlertRepository. TryClaim takes the same lock as
// every other method, so its check-and-set is atomic exactly like the single
// conditional UPDATE it stands in for.
type memRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*Alert
}

func newMemRepo() *memRepo {
	return &memRepo{alerts: make(map[uuid.UUID]*Alert)}
}

func cloneAlert(a *Alert) *Alert {
	cp := *a
	return &cp
}

func (r *memRepo) Create(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (r *memRepo) Update(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now().UTC()
	r.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (r *memRepo) TryClaim(_ context.Context, id, clinicianID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.Status != StatusPending || a.ClaimedBy != nil {
		return false, nil
	}
	a.Status = StatusClaimed
	a.ClaimedBy = &clinicianID
	claimedAt := at
	a.ClaimedAt = &claimedAt
	a.UpdatedAt = at
	return true, nil
}

func (r *memRepo) UpdateScore(_ context.Context, id uuid.UUID, score float64, components []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return ErrNotFound
	}
	raw := json.RawMessage(components)
	a.RiskScore = score
	a.ScoreComponents = &raw
	return nil
}

func (r *memRepo) UpdateSLABreachTime(_ context.Context, id uuid.UUID, breachAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.SLABreachAt = breachAt
	return nil
}

func hasStatus(statuses []Status, s Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (r *memRepo) ListActiveByOrg(_ context.Context, orgID uuid.UUID, statuses []Status) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for _, a := range r.alerts {
		if a.OrganizationID == orgID && hasStatus(statuses, a.Status) {
			out = append(out, cloneAlert(a))
		}
	}
	return out, nil
}

func (r *memRepo) ReplaceRanks(_ context.Context, orgID uuid.UUID, assignments []RankAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.OrganizationID == orgID {
			a.PriorityRank = nil
		}
	}
	for _, asn := range assignments {
		a, ok := r.alerts[asn.AlertID]
		if !ok {
			return ErrNotFound
		}
		rank := asn.Rank
		a.PriorityRank = &rank
	}
	return nil
}

func (r *memRepo) ListByOrg(_ context.Context, orgID uuid.UUID, status *Status, limit, offset int) ([]*Alert, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for _, a := range r.alerts {
		if a.OrganizationID != orgID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for _, a := range r.alerts {
		if a.PatientID == patientID {
			out = append(out, cloneAlert(a))
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memRepo) ListQueue(_ context.Context, orgID uuid.UUID, statuses []Status) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for _, a := range r.alerts {
		if a.OrganizationID == orgID && hasStatus(statuses, a.Status) {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].PriorityRank, out[j].PriorityRank
		switch {
		case ri != nil && rj != nil:
			return *ri < *rj
		case ri != nil:
			return true
		case rj != nil:
			return false
		}
		return out[i].RiskScore > out[j].RiskScore
	})
	return out, nil
}

func (r *memRepo) ListExpiredSnoozes(_ context.Context, now time.Time) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for _, a := range r.alerts {
		if a.Status == StatusSnoozed && a.SnoozedUntil != nil && !a.SnoozedUntil.After(now) {
			out = append(out, cloneAlert(a))
		}
	}
	return out, nil
}

func (r *memRepo) ListOrgsWithActive(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, a := range r.alerts {
		if hasStatus([]Status{StatusPending, StatusClaimed, StatusAcknowledged}, a.Status) {
			if _, ok := seen[a.OrganizationID]; !ok {
				seen[a.OrganizationID] = struct{}{}
				out = append(out, a.OrganizationID)
			}
		}
	}
	return out, nil
}

type stubSignals struct {
	obs []telemetry.Observation
	adh []telemetry.MedicationAdherence
}

func (s *stubSignals) ExtractSignals(context.Context, uuid.UUID, string, time.Duration) ([]telemetry.Observation, []telemetry.MedicationAdherence) {
	return s.obs, s.adh
}

func defaultPolicy() Policy {
	return Policy{
		RankIncludeAcknowledged: true,
		AllowDirectAcknowledge:  false,
		SignalLookback:          7 * 24 * time.Hour,
	}
}

func newTestService(repo AlertRepository, signals SignalSource, policy Policy) *Service {
	scorer := scoring.NewScorer(scoring.DefaultConfig(), zerolog.Nop())
	return NewService(repo, signals, scorer, DefaultSLAPolicy(), policy, nil, zerolog.Nop())
}

func validInput(orgID uuid.UUID) CreateAlertInput {
	return CreateAlertInput{
		OrganizationID: orgID,
		PatientID:      uuid.New(),
		RuleID:         uuid.New(),
		MetricID:       "systolic_bp",
		Severity:       SeverityCritical,
	}
}

func mustCreate(t *testing.T, svc *Service, in CreateAlertInput) *Alert {
	t.Helper()
	a, err := svc.CreateAlert(context.Background(), in)
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return a
}

func TestCreateAlert_ScoresAndFixesSLA(t *testing.T) {
	repo := newMemRepo()
	signals := &stubSignals{
		obs: []telemetry.Observation{
			{MetricID: "systolic_bp", Value: 165},
			{MetricID: "systolic_bp", Value: 172},
			{MetricID: "systolic_bp", Value: 180},
		},
		adh: []telemetry.MedicationAdherence{{AdherenceScore: 0.4}},
	}
	svc := newTestService(repo, signals, defaultPolicy())

	triggered := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	in := validInput(uuid.New())
	in.TriggeredAt = &triggered

	a := mustCreate(t, svc, in)

	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.RiskScore <= 0 || a.RiskScore > 10 {
		t.Errorf("risk score out of range: %v", a.RiskScore)
	}
	if a.ScoreComponents == nil {
		t.Fatal("expected score components to be persisted")
	}
	var comps scoring.Components
	if err := json.Unmarshal(*a.ScoreComponents, &comps); err != nil {
		t.Fatalf("components not valid json: %v", err)
	}
	if comps.SeverityMultiplier != 2.0 {
		t.Errorf("expected critical multiplier, got %v", comps.SeverityMultiplier)
	}
	if want := triggered.Add(30 * time.Minute); !a.SLABreachAt.Equal(want) {
		t.Errorf("expected sla breach at %v, got %v", want, a.SLABreachAt)
	}
	if a.PriorityRank == nil || *a.PriorityRank != 1 {
		t.Errorf("sole active alert should hold rank 1, got %v", a.PriorityRank)
	}
}

func TestCreateAlert_Validation(t *testing.T) {
	svc := newTestService(newMemRepo(), &stubSignals{}, defaultPolicy())

	cases := []struct {
		name   string
		mutate func(*CreateAlertInput)
	}{
		{"missing organization", func(in *CreateAlertInput) { in.OrganizationID = uuid.Nil }},
		{"missing patient", func(in *CreateAlertInput) { in.PatientID = uuid.Nil }},
		{"missing rule", func(in *CreateAlertInput) { in.RuleID = uuid.Nil }},
		{"missing metric", func(in *CreateAlertInput) { in.MetricID = "  " }},
		{"unknown severity", func(in *CreateAlertInput) { in.Severity = "catastrophic" }},
	}
	for _, tc := range cases {
		in := validInput(uuid.New())
		tc.mutate(&in)
		if _, err := svc.CreateAlert(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestClaim_SetsClinician(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	a := mustCreate(t, svc, validInput(uuid.New()))

	clinician := uuid.New()
	claimed, err := svc.Claim(context.Background(), a.ID, clinician)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusClaimed {
		t.Errorf("expected claimed, got %s", claimed.Status)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != clinician {
		t.Errorf("expected claimed_by %s, got %v", clinician, claimed.ClaimedBy)
	}
	if claimed.ClaimedAt == nil {
		t.Error("expected claimed_at to be set")
	}
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	a := mustCreate(t, svc, validInput(uuid.New()))

	const racers = 8
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Claim(context.Background(), a.ID, uuid.New())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrClaimConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("expected %d conflicts, got %d", racers-1, conflicts)
	}
}

func TestClaim_ErrorDisambiguation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()

	if _, err := svc.Claim(ctx, uuid.New(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing alert: expected ErrNotFound, got %v", err)
	}

	a := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Claim(ctx, a.ID, uuid.New()); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := svc.Claim(ctx, a.ID, uuid.New()); !errors.Is(err, ErrClaimConflict) {
		t.Errorf("second claim: expected ErrClaimConflict, got %v", err)
	}

	suppressed := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Suppress(ctx, suppressed.ID); err != nil {
		t.Fatalf("suppress: %v", err)
	}
	if _, err := svc.Claim(ctx, suppressed.ID, uuid.New()); !errors.Is(err, ErrTerminalState) {
		t.Errorf("terminal alert: expected ErrTerminalState, got %v", err)
	}
}

func TestAcknowledge_RequiresClaim(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()
	a := mustCreate(t, svc, validInput(uuid.New()))

	if _, err := svc.Acknowledge(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending alert: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Claim(ctx, a.ID, uuid.New()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	acked, err := svc.Acknowledge(ctx, a.ID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != StatusAcknowledged || acked.AcknowledgedAt == nil {
		t.Errorf("expected acknowledged with timestamp, got %s %v", acked.Status, acked.AcknowledgedAt)
	}
}

func TestAcknowledge_DirectWhenPolicyAllows(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowDirectAcknowledge = true
	svc := newTestService(newMemRepo(), &stubSignals{}, policy)
	a := mustCreate(t, svc, validInput(uuid.New()))

	if _, err := svc.Acknowledge(context.Background(), a.ID); err != nil {
		t.Errorf("direct acknowledge should be allowed by policy, got %v", err)
	}
}

func TestResolve_Lifecycle(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()
	clinician := uuid.New()

	a := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Claim(ctx, a.ID, clinician); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Claimed but not acknowledged yet.
	if _, err := svc.Resolve(ctx, a.ID, clinician, "resolved early", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resolve from claimed: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Acknowledge(ctx, a.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	if _, err := svc.Resolve(ctx, a.ID, clinician, "   ", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("blank notes: expected ErrValidation, got %v", err)
	}

	minutes := 12
	resolved, err := svc.Resolve(ctx, a.ID, clinician, "patient contacted, medication adjusted", &minutes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ResolvedAt == nil || resolved.ResolutionNotes == nil {
		t.Errorf("resolution fields not set: %+v", resolved)
	}
	if resolved.PriorityRank != nil {
		t.Errorf("resolved alert must leave the ranking, got rank %v", *resolved.PriorityRank)
	}

	if _, err := svc.Resolve(ctx, a.ID, clinician, "again", nil); !errors.Is(err, ErrTerminalState) {
		t.Errorf("double resolve: expected ErrTerminalState, got %v", err)
	}
}

func TestSnooze_ClearsClaim(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()

	a := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Claim(ctx, a.ID, uuid.New()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := svc.Snooze(ctx, a.ID, time.Now().Add(-time.Hour)); !errors.Is(err, ErrValidation) {
		t.Errorf("past snooze: expected ErrValidation, got %v", err)
	}

	until := time.Now().Add(2 * time.Hour)
	snoozed, err := svc.Snooze(ctx, a.ID, until)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if snoozed.Status != StatusSnoozed {
		t.Errorf("expected snoozed, got %s", snoozed.Status)
	}
	if snoozed.ClaimedBy != nil || snoozed.ClaimedAt != nil {
		t.Error("snooze must release the claim")
	}
	if snoozed.SnoozedUntil == nil || !snoozed.SnoozedUntil.Equal(until.UTC()) {
		t.Errorf("expected snoozed_until %v, got %v", until.UTC(), snoozed.SnoozedUntil)
	}
}

func TestSuppress_OnlyFromPending(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()

	a := mustCreate(t, svc, validInput(uuid.New()))
	suppressed, err := svc.Suppress(ctx, a.ID)
	if err != nil {
		t.Fatalf("suppress: %v", err)
	}
	if suppressed.Status != StatusSuppressed {
		t.Errorf("expected suppressed, got %s", suppressed.Status)
	}

	b := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Claim(ctx, b.ID, uuid.New()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Suppress(ctx, b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("suppress claimed alert: expected ErrInvalidTransition, got %v", err)
	}
}

func TestBulkAcknowledge_PartialFailure(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()
	orgID := uuid.New()
	clinician := uuid.New()

	claimedA := mustCreate(t, svc, validInput(orgID))
	claimedB := mustCreate(t, svc, validInput(orgID))
	for _, a := range []*Alert{claimedA, claimedB} {
		if _, err := svc.Claim(ctx, a.ID, clinician); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}

	resolved := mustCreate(t, svc, validInput(orgID))
	if _, err := svc.Claim(ctx, resolved.ID, clinician); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Acknowledge(ctx, resolved.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := svc.Resolve(ctx, resolved.ID, clinician, "done", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	missing := uuid.New()
	result, err := svc.BulkAcknowledge(ctx, []uuid.UUID{claimedA.ID, resolved.ID, claimedB.ID, missing})
	if err != nil {
		t.Fatalf("bulk acknowledge: %v", err)
	}

	if len(result.Acknowledged) != 2 {
		t.Errorf("expected 2 acknowledged, got %d", len(result.Acknowledged))
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped, got %d", len(result.Skipped))
	}
	for _, item := range result.Skipped {
		if item.Reason == "" {
			t.Errorf("skipped alert %s has no reason", item.AlertID)
		}
	}

	for _, id := range []uuid.UUID{claimedA.ID, claimedB.ID} {
		got, err := svc.GetAlert(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusAcknowledged {
			t.Errorf("alert %s: expected acknowledged, got %s", id, got.Status)
		}
	}
}

func TestRecalculateRanks_DensePermutation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()
	orgID := uuid.New()

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seed := func(score float64, triggered time.Time) uuid.UUID {
		a := &Alert{
			ID:             uuid.New(),
			OrganizationID: orgID,
			PatientID:      uuid.New(),
			RuleID:         uuid.New(),
			MetricID:       "heart_rate",
			Severity:       SeverityHigh,
			Status:         StatusPending,
			RiskScore:      score,
			TriggeredAt:    triggered,
			SLABreachAt:    triggered.Add(2 * time.Hour),
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return a.ID
	}

	high := seed(9.5, base.Add(3*time.Hour))
	tieEarly := seed(7.0, base)
	tieLate := seed(7.0, base.Add(time.Hour))
	low := seed(3.2, base)

	n, err := svc.RecalculateRanks(ctx, orgID)
	if err != nil {
		t.Fatalf("recalculate ranks: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 ranked, got %d", n)
	}

	rankOf := func(id uuid.UUID) int {
		t.Helper()
		a, err := svc.GetAlert(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.PriorityRank == nil {
			t.Fatalf("alert %s has no rank", id)
		}
		return *a.PriorityRank
	}

	ranks := map[uuid.UUID]int{
		high: rankOf(high), tieEarly: rankOf(tieEarly), tieLate: rankOf(tieLate), low: rankOf(low),
	}
	if ranks[high] != 1 {
		t.Errorf("highest score should rank 1, got %d", ranks[high])
	}
	if ranks[tieEarly] != 2 || ranks[tieLate] != 3 {
		t.Errorf("score tie should break by trigger time: early=%d late=%d", ranks[tieEarly], ranks[tieLate])
	}
	if ranks[low] != 4 {
		t.Errorf("lowest score should rank last, got %d", ranks[low])
	}

	seen := map[int]bool{}
	for id, r := range ranks {
		if r < 1 || r > 4 || seen[r] {
			t.Errorf("ranks are not a dense permutation: alert %s has rank %d", id, r)
		}
		seen[r] = true
	}

	// Re-running on an unchanged set must reproduce the same assignment.
	if _, err := svc.RecalculateRanks(ctx, orgID); err != nil {
		t.Fatalf("second recalculation: %v", err)
	}
	for id, want := range ranks {
		if got := rankOf(id); got != want {
			t.Errorf("ranking not idempotent: alert %s went from %d to %d", id, want, got)
		}
	}
}

func TestRecalculateRanks_ExcludesInactive(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()
	orgID := uuid.New()
	clinician := uuid.New()

	first := mustCreate(t, svc, validInput(orgID))
	second := mustCreate(t, svc, validInput(orgID))
	third := mustCreate(t, svc, validInput(orgID))

	if _, err := svc.Claim(ctx, first.ID, clinician); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Acknowledge(ctx, first.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := svc.Resolve(ctx, first.ID, clinician, "handled", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := svc.GetAlert(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PriorityRank != nil {
		t.Errorf("resolved alert should be unranked, got %v", *got.PriorityRank)
	}

	ranks := map[int]bool{}
	for _, id := range []uuid.UUID{second.ID, third.ID} {
		a, err := svc.GetAlert(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if a.PriorityRank == nil {
			t.Fatalf("active alert %s lost its rank", id)
		}
		ranks[*a.PriorityRank] = true
	}
	if !ranks[1] || !ranks[2] {
		t.Errorf("remaining active alerts should hold ranks 1 and 2, got %v", ranks)
	}
}

func TestReactivateExpiredSnoozes(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &stubSignals{}, defaultPolicy())
	ctx := context.Background()

	expired := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Snooze(ctx, expired.ID, time.Now().Add(10*time.Millisecond)); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	active := mustCreate(t, svc, validInput(uuid.New()))
	if _, err := svc.Snooze(ctx, active.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	n, err := svc.ReactivateExpiredSnoozes(ctx)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reactivated, got %d", n)
	}

	back, err := svc.GetAlert(ctx, expired.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if back.Status != StatusPending || back.SnoozedUntil != nil {
		t.Errorf("expected pending with cleared snooze, got %s %v", back.Status, back.SnoozedUntil)
	}

	still, err := svc.GetAlert(ctx, active.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if still.Status != StatusSnoozed {
		t.Errorf("unexpired snooze should stay snoozed, got %s", still.Status)
	}
}

func TestRescore_NeverMovesSLA(t *testing.T) {
	repo := newMemRepo()
	signals := &stubSignals{}
	svc := newTestService(repo, signals, defaultPolicy())
	ctx := context.Background()

	triggered := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	in := validInput(uuid.New())
	in.TriggeredAt = &triggered
	a := mustCreate(t, svc, in)
	originalDeadline := a.SLABreachAt

	// New telemetry arrives between scoring passes.
	signals.obs = []telemetry.Observation{
		{MetricID: "systolic_bp", Value: 190},
		{MetricID: "systolic_bp", Value: 205},
	}
	signals.adh = []telemetry.MedicationAdherence{{AdherenceScore: 0.1}}

	rescored, err := svc.Rescore(ctx, a.ID)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if rescored.RiskScore <= a.RiskScore {
		t.Errorf("worse telemetry should raise the score: %v -> %v", a.RiskScore, rescored.RiskScore)
	}

	stored, err := svc.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.SLABreachAt.Equal(originalDeadline) {
		t.Errorf("rescore moved the SLA deadline: %v -> %v", originalDeadline, stored.SLABreachAt)
	}
}

func TestRecalculateSLA_ReappliesPolicyToTriggerTime(t *testing.T) {
	repo := newMemRepo()
	scorer := scoring.NewScorer(scoring.DefaultConfig(), zerolog.Nop())
	// Policy tightened after the alert was created.
	tightened := NewSLAPolicy(10*time.Minute, time.Hour, 4*time.Hour, 12*time.Hour)
	svc := NewService(repo, &stubSignals{}, scorer, tightened, defaultPolicy(), nil, zerolog.Nop())
	ctx := context.Background()

	triggered := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	a := &Alert{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		PatientID:      uuid.New(),
		RuleID:         uuid.New(),
		MetricID:       "systolic_bp",
		Severity:       SeverityCritical,
		Status:         StatusPending,
		TriggeredAt:    triggered,
		SLABreachAt:    triggered.Add(30 * time.Minute),
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("seed: %v", err)
	}

	updated, err := svc.RecalculateSLA(ctx, a.ID)
	if err != nil {
		t.Fatalf("recalculate sla: %v", err)
	}
	if want := triggered.Add(10 * time.Minute); !updated.SLABreachAt.Equal(want) {
		t.Errorf("expected new deadline %v, got %v", want, updated.SLABreachAt)
	}
}

func TestTriageQueue_ServesAndInvalidatesSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queueCache := cache.NewQueueCache(client, time.Minute)

	repo := newMemRepo()
	scorer := scoring.NewScorer(scoring.DefaultConfig(), zerolog.Nop())
	svc := NewService(repo, &stubSignals{}, scorer, DefaultSLAPolicy(), defaultPolicy(), queueCache, zerolog.Nop())
	ctx := context.Background()
	orgID := uuid.New()

	a := mustCreate(t, svc, validInput(orgID))

	first, err := svc.TriageQueue(ctx, orgID)
	if err != nil {
		t.Fatalf("triage queue: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 queued alert, got %d", len(first))
	}

	// Mutate storage behind the cache's back: the snapshot still serves.
	if err := repo.UpdateScore(ctx, a.ID, 1.0, []byte(`{}`)); err != nil {
		t.Fatalf("update score: %v", err)
	}
	cached, err := svc.TriageQueue(ctx, orgID)
	if err != nil {
		t.Fatalf("triage queue: %v", err)
	}
	if cached[0].RiskScore != first[0].RiskScore {
		t.Errorf("expected cached snapshot, got fresh score %v", cached[0].RiskScore)
	}

	// A rank recalculation invalidates the snapshot.
	if _, err := svc.RecalculateRanks(ctx, orgID); err != nil {
		t.Fatalf("recalculate ranks: %v", err)
	}
	fresh, err := svc.TriageQueue(ctx, orgID)
	if err != nil {
		t.Fatalf("triage queue: %v", err)
	}
	if fresh[0].RiskScore != 1.0 {
		t.Errorf("expected fresh read after invalidation, got %v", fresh[0].RiskScore)
	}
}
