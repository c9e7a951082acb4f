package anomaly

import (
	"github.com/septivank/water-meter-bridge/internal/db"
)

// Detector selects readings whose consumption is abnormally high compared
// with the mean of all readings
type Detector struct {
	factor float64
}

// NewDetector creates a new detector; a reading is abnormal when its
// consumption exceeds factor times the mean
func NewDetector(factor float64) *Detector {
	return &Detector{factor: factor}
}

// Factor returns the configured multiplier
func (d *Detector) Factor() float64 {
	return d.factor
}

// Mean returns the mean consumption, 0 for no rows
func Mean(rows []db.ConsumptionRow) float64 {
	if len(rows) == 0 {
		return 0
	}

	sum := 0.0
	for _, r := range rows {
		sum += float64(r.Consumption)
	}
	return sum / float64(len(rows))
}

// SelectAbnormal returns the mean and the rows strictly above factor x mean,
// in input order
func (d *Detector) SelectAbnormal(rows []db.ConsumptionRow) (float64, []db.ConsumptionRow) {
	mean := Mean(rows)
	threshold := d.factor * mean

	var abnormal []db.ConsumptionRow
	for _, r := range rows {
		if float64(r.Consumption) > threshold {
			abnormal = append(abnormal, r)
		}
	}

	return mean, abnormal
}
