package points

// HRZoneThresholds are the upper bounds, as a fraction of max HR, of zones 1-4.
// Anything at or above the last bound is zone 5.
var HRZoneThresholds = []float64{0.6, 0.7, 0.8, 0.9}

// HeartRateZone maps an average heart rate to a 5-zone %maxHR model. Returns 0
// when either value is unknown.
func HeartRateZone(avg, max float64) int {
	if avg <= 0 || max <= 0 {
		return 0
	}
	pct := avg / max
	for i, upper := range HRZoneThresholds {
		if pct < upper {
			return i + 1
		}
	}
	return len(HRZoneThresholds) + 1
}
