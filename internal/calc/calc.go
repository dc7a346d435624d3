// Package calc derives nutrition targets from body metrics.
package calc

import (
	"math"
	"time"

	"github.com/avdotin/fitplan/internal/model"
)

// Policy constants. Calorie floor follows common dietary guidance; protein
// and water scale with body weight.
const (
	kcalPerKg        = 7700.0 // energy equivalent of 1 kg body mass
	calorieFloor     = 1200.0 // kcal/day, never prescribe below this
	proteinPerKg     = 1.8    // g per kg body weight
	waterPerKg       = 35.0   // ml per kg body weight
	maleConstant     = 5.0
	femaleConstant   = -161.0
	maxProjectedWeek = 520 // cap absurd projections at ten years
)

var activityFactors = map[model.ActivityLevel]float64{
	model.ActivitySedentary:  1.2,
	model.ActivityLight:      1.375,
	model.ActivityModerate:   1.55,
	model.ActivityActive:     1.725,
	model.ActivityVeryActive: 1.9,
}

// BMR computes basal metabolic rate via Mifflin-St Jeor.
func BMR(p model.Profile) float64 {
	c := maleConstant
	if p.Sex == model.SexFemale {
		c = femaleConstant
	}
	return 10*p.WeightKg + 6.25*p.HeightCm - 5*float64(p.Age) + c
}

// TDEE scales BMR by the profile's activity factor. Unknown levels fall
// back to sedentary.
func TDEE(p model.Profile) float64 {
	f, ok := activityFactors[p.ActivityLevel]
	if !ok {
		f = activityFactors[model.ActivitySedentary]
	}
	return BMR(p) * f
}

// Targets produces the full target bundle for a profile. now anchors the
// projected goal date.
func Targets(p model.Profile, now time.Time) model.TargetBundle {
	bmr := BMR(p)
	tdee := TDEE(p)

	// Daily adjustment implied by the desired weekly rate.
	daily := p.WeeklyRateKg * kcalPerKg / 7
	calories := tdee + daily
	if calories < calorieFloor {
		calories = calorieFloor
	}

	b := model.TargetBundle{
		BMR:           round1(bmr),
		TDEE:          round1(tdee),
		CalorieTarget: round1(calories),
		ProteinTarget: round1(proteinPerKg * p.WeightKg),
		WaterTarget:   round1(waterPerKg * p.WeightKg),
		WeeklyRate:    p.WeeklyRateKg,
	}

	// Projection only makes sense when the rate moves weight toward the goal.
	diff := p.GoalWeightKg - p.WeightKg
	if p.WeeklyRateKg != 0 && diff != 0 && sameSign(diff, p.WeeklyRateKg) {
		weeks := int(math.Ceil(diff / p.WeeklyRateKg))
		if weeks > 0 && weeks <= maxProjectedWeek {
			date := now.AddDate(0, 0, weeks*7)
			b.EstimatedWeeks = &weeks
			b.ProjectedDate = &date
		}
	}
	return b
}

func sameSign(a, b float64) bool { return (a < 0) == (b < 0) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
