package scoring

// Weights controls the split between the three evidence components. Only the
// relative proportions matter; the scorer divides by their sum.
type Weights struct {
	Vitals    float64
	Trend     float64
	Adherence float64
}

// Range is a metric's configured normal range. Readings inside it contribute
// no vitals deviation.
type Range struct {
	Min float64
	Max float64
}

// Config holds the tunables of the risk scorer. Severity multipliers and
// metric ranges come from rule configuration; weights and gains from service
// config.
type Config struct {
	Weights             Weights
	SeverityMultipliers map[string]float64
	Ranges              map[string]Range

	// VitalsGain and TrendGain set how quickly the saturating deviation and
	// trend components approach 10.
	VitalsGain float64
	TrendGain  float64

	// TrendWindow is the number of most recent observations the trend slope
	// is fitted over.
	TrendWindow int
}

// DefaultConfig returns the stock scorer configuration: a 40/30/30 weight
// split, the standard severity ladder, and normal ranges for the common
// remote-monitoring vitals.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Vitals: 0.4, Trend: 0.3, Adherence: 0.3},
		SeverityMultipliers: map[string]float64{
			"low":      1.0,
			"medium":   1.2,
			"high":     1.5,
			"critical": 2.0,
		},
		Ranges: map[string]Range{
			"systolic_bp":   {Min: 90, Max: 140},
			"diastolic_bp":  {Min: 60, Max: 90},
			"heart_rate":    {Min: 60, Max: 100},
			"spo2":          {Min: 94, Max: 100},
			"blood_glucose": {Min: 70, Max: 180},
			"weight_kg":     {Min: 40, Max: 150},
			"temperature_c": {Min: 36.1, Max: 37.8},
		},
		VitalsGain:  2.0,
		TrendGain:   10.0,
		TrendWindow: 5,
	}
}
