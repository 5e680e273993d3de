package scoring

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/vitalwatch/vitalwatch/internal/domain/telemetry"
)

// Components are the individually clamped [0,10] inputs behind a composite
// risk score. They are persisted with the alert so a clinician can see why an
// alert ranked where it did.
type Components struct {
	VitalsDeviation    float64 `json:"vitals_deviation"`
	TrendVelocity      float64 `json:"trend_velocity"`
	AdherencePenalty   float64 `json:"adherence_penalty"`
	SeverityMultiplier float64 `json:"severity_multiplier"`
}

// Result is a computed risk score with its component breakdown.
type Result struct {
	RiskScore  float64    `json:"risk_score"`
	Components Components `json:"components"`
}

// Scorer computes composite risk scores. Score is a pure function of its
// inputs: no clock reads, no randomness, so identical series always produce
// identical scores.
type Scorer struct {
	cfg    Config
	logger zerolog.Logger
}

func NewScorer(cfg Config, logger zerolog.Logger) *Scorer {
	return &Scorer{cfg: cfg, logger: logger}
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// Score combines vitals deviation, trend velocity, and adherence penalty into
// a [0,10] risk score, scaled by the rule's severity multiplier. Missing
// series yield neutral (zero) components rather than errors: absence of
// evidence is not evidence of risk.
func (s *Scorer) Score(severity, metricID string, observations []telemetry.Observation, adherence []telemetry.MedicationAdherence) Result {
	rng, haveRange := s.cfg.Ranges[metricID]
	if !haveRange && metricID != "" {
		s.logger.Warn().Str("metric_id", metricID).Msg("no normal range configured, vitals components neutral")
	}

	var c Components
	if haveRange {
		c.VitalsDeviation = s.vitalsDeviation(rng, observations)
		c.TrendVelocity = s.trendVelocity(rng, observations)
	}
	c.AdherencePenalty = adherencePenalty(adherence)
	c.SeverityMultiplier = s.severityMultiplier(severity)

	w := s.cfg.Weights
	normalizer := w.Vitals + w.Trend + w.Adherence
	weighted := (w.Vitals*c.VitalsDeviation + w.Trend*c.TrendVelocity + w.Adherence*c.AdherencePenalty) / normalizer

	return Result{
		RiskScore:  clamp10(weighted * c.SeverityMultiplier),
		Components: c,
	}
}

func (s *Scorer) severityMultiplier(severity string) float64 {
	if m, ok := s.cfg.SeverityMultipliers[severity]; ok {
		return m
	}
	s.logger.Warn().Str("severity", severity).Msg("unknown severity, falling back to minimal multiplier")
	return 1.0
}

// vitalsDeviation measures how far the most recent reading sits outside the
// normal range, relative to the range width, saturating toward 10.
func (s *Scorer) vitalsDeviation(rng Range, observations []telemetry.Observation) float64 {
	if len(observations) == 0 {
		return 0
	}
	width := rng.Max - rng.Min
	if width <= 0 {
		return 0
	}

	latest := observations[len(observations)-1].Value
	var dist float64
	switch {
	case latest > rng.Max:
		dist = latest - rng.Max
	case latest < rng.Min:
		dist = rng.Min - latest
	default:
		return 0
	}

	return clamp10(10 * math.Tanh(s.cfg.VitalsGain*dist/width))
}

// trendVelocity fits a least-squares slope over the most recent readings and
// scores only movement away from the range midpoint. Improving or stable
// series contribute nothing; the component never goes negative.
func (s *Scorer) trendVelocity(rng Range, observations []telemetry.Observation) float64 {
	k := s.cfg.TrendWindow
	if k < 2 {
		k = 2
	}
	if len(observations) < 2 {
		return 0
	}
	if len(observations) > k {
		observations = observations[len(observations)-k:]
	}

	width := rng.Max - rng.Min
	if width <= 0 {
		return 0
	}

	slope := leastSquaresSlope(observations)

	mid := (rng.Min + rng.Max) / 2
	latest := observations[len(observations)-1].Value
	direction := 1.0
	if latest < mid {
		direction = -1.0
	}

	worsening := slope * direction
	if worsening <= 0 {
		return 0
	}

	return clamp10(10 * math.Tanh(s.cfg.TrendGain*worsening/width))
}

// leastSquaresSlope returns the per-reading slope of the series values over
// their index, treating readings as evenly spaced.
func leastSquaresSlope(observations []telemetry.Observation) float64 {
	n := float64(len(observations))
	var sumX, sumY float64
	for i, o := range observations {
		sumX += float64(i)
		sumY += o.Value
	}
	meanX := sumX / n
	meanY := sumY / n

	var num, den float64
	for i, o := range observations {
		dx := float64(i) - meanX
		num += dx * (o.Value - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// adherencePenalty is the inverse of mean adherence over the window. No
// adherence data at all is neutral, not penalized.
func adherencePenalty(adherence []telemetry.MedicationAdherence) float64 {
	if len(adherence) == 0 {
		return 0
	}
	var sum float64
	for _, a := range adherence {
		score := a.AdherenceScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		sum += score
	}
	mean := sum / float64(len(adherence))
	return clamp10((1 - mean) * 10)
}
