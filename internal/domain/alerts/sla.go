package alerts

import (
	"fmt"
	"time"
)

// SLAPolicy maps severity to a fixed response window. The breach deadline is
// computed exactly once at alert creation; rescoring never moves it.
type SLAPolicy struct {
	windows map[Severity]time.Duration
}

// NewSLAPolicy builds a policy from per-severity windows.
func NewSLAPolicy(critical, high, medium, low time.Duration) SLAPolicy {
	return SLAPolicy{windows: map[Severity]time.Duration{
		SeverityCritical: critical,
		SeverityHigh:     high,
		SeverityMedium:   medium,
		SeverityLow:      low,
	}}
}

// DefaultSLAPolicy returns the stock response windows.
func DefaultSLAPolicy() SLAPolicy {
	return NewSLAPolicy(30*time.Minute, 2*time.Hour, 8*time.Hour, 24*time.Hour)
}

// Window returns the response window for a severity.
func (p SLAPolicy) Window(severity Severity) (time.Duration, error) {
	w, ok := p.windows[severity]
	if !ok {
		return 0, fmt.Errorf("no SLA window configured for severity %q", severity)
	}
	return w, nil
}

// BreachTime returns triggeredAt plus the severity's window. Unknown
// severities fall back to the low-severity window; the service validates
// severity at the boundary, so this path only covers config drift.
func (p SLAPolicy) BreachTime(severity Severity, triggeredAt time.Time) time.Time {
	w, err := p.Window(severity)
	if err != nil {
		w = p.windows[SeverityLow]
	}
	return triggeredAt.Add(w)
}
