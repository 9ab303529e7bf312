package georank

import (
	"fmt"
	"math"

	"github.com/veepo/veeposync/internal/domain"
)

const weightTolerance = 1e-9

// Weights of the composite score factors. They must sum to 1.
type Weights struct {
	Plan     float64 `json:"plan"`
	NPS      float64 `json:"nps"`
	Rating   float64 `json:"rating"`
	Verified float64 `json:"verified"`
	Activity float64 `json:"activity"`
}

func DefaultWeights() Weights {
	return Weights{
		Plan:     0.40,
		NPS:      0.25,
		Rating:   0.20,
		Verified: 0.10,
		Activity: 0.05,
	}
}

func (w Weights) Sum() float64 {
	return w.Plan + w.NPS + w.Rating + w.Verified + w.Activity
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"plan":     w.Plan,
		"nps":      w.NPS,
		"rating":   w.Rating,
		"verified": w.Verified,
		"activity": w.Activity,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight %s must be non-negative: %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}

	return nil
}

// Factors are the normalized [0,1] inputs of the score.
type Factors struct {
	Plan     float64
	NPS      float64
	Rating   float64
	Verified float64
	Activity float64
}

func Normalize(p domain.Provider) Factors {
	f := Factors{
		Plan:     planFactor(p.Plan),
		NPS:      clamp01((p.NPSScore + 100) / 200),
		Rating:   clamp01(p.AverageRating / 5),
		Activity: clamp01(p.ActivityScore / 100),
	}
	if p.IsVerified {
		f.Verified = 1
	}

	return f
}

func Score(p domain.Provider, w Weights) float64 {
	f := Normalize(p)

	return w.Plan*f.Plan +
		w.NPS*f.NPS +
		w.Rating*f.Rating +
		w.Verified*f.Verified +
		w.Activity*f.Activity
}

// planFactor spreads the tiers evenly over [0,1]. Unknown tiers score 0.
func planFactor(tier domain.PlanTier) float64 {
	switch tier.Canonical() {
	case domain.PlanPro:
		return 1.0 / 3
	case domain.PlanPremium, domain.PlanMaster:
		return 2.0 / 3
	case domain.PlanEnterprise:
		return 1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
