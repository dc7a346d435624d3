package sync

import (
	"math"

	"github.com/avdotin/fitplan/internal/model"
)

// Significance thresholds. A recompute that moves the calorie target by
// more than 50 kcal or the protein target by more than 10 g is worth
// interrupting the user about; smaller drifts are not.
const (
	calorieChangeThreshold = 50.0
	proteinChangeThreshold = 10.0
)

// HasSignificantChange reports whether current differs from previous
// enough to notify. A nil previous means there is no baseline and the
// answer is always false. Water, BMR and TDEE deltas never trigger on
// their own.
func HasSignificantChange(previous *model.TargetBundle, current model.TargetBundle) bool {
	if previous == nil {
		return false
	}
	return math.Abs(current.CalorieTarget-previous.CalorieTarget) > calorieChangeThreshold ||
		math.Abs(current.ProteinTarget-previous.ProteinTarget) > proteinChangeThreshold
}
