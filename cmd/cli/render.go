package main

import (
	"fmt"
	"os"
	"time"

	"github.com/avdotin/fitplan/internal/model"
)

// printPlan renders a plan artifact for the terminal.
func printPlan(a model.PlanArtifact, stale bool) {
	header := fmt.Sprintf("plan v%d computed_at=%s", a.Version, a.ComputedAt)
	if stale {
		header += " (stale)"
	}
	if a.NeedsAcknowledgment {
		header += " [needs ack]"
	}
	fmt.Println(header)
	printTargets("", a.Targets)
	if a.PreviousTargets != nil {
		printTargets("prev ", *a.PreviousTargets)
	}
}

func printTargets(prefix string, t model.TargetBundle) {
	fmt.Printf("%scalories=%.0f kcal  protein=%.0f g  water=%.0f ml  rate=%+.2f kg/wk\n",
		prefix, t.CalorieTarget, t.ProteinTarget, t.WaterTarget, t.WeeklyRate)
	fmt.Printf("%sbmr=%.0f  tdee=%.0f", prefix, t.BMR, t.TDEE)
	if t.EstimatedWeeks != nil {
		fmt.Printf("  eta=%d weeks", *t.EstimatedWeeks)
	}
	if t.ProjectedDate != nil {
		fmt.Printf(" (%s)", t.ProjectedDate.Format("2006-01-02"))
	}
	fmt.Println()
}

// printProfile renders the stored body metrics.
func printProfile(p model.Profile) {
	fmt.Printf("age=%d sex=%s height=%.0fcm weight=%.1fkg goal=%.1fkg rate=%+.2fkg/wk activity=%s ver=%d\n",
		p.Age, p.Sex, p.HeightCm, p.WeightKg, p.GoalWeightKg, p.WeeklyRateKg, p.ActivityLevel, p.Ver)
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(os.Stderr, "updated %s\n", p.UpdatedAt.UTC().Format(time.RFC3339))
	}
}
