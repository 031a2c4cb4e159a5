package worker

import (
	"math/rand"
	"time"
)

// plan is the precomputed execution shape of one task
type plan struct {
	steps      int
	failAt     int // 0 = no failure; otherwise 1-based step index
	failCause  string
	stepTokens []int
}

// planTask rolls the step count and failure draw for a task. Step count
// scales with complexity and shrinks for faster profiles, with a floor so
// even trivial tasks stream a few progress updates.
func planTask(complexity int, p Profile, rng *rand.Rand) plan {
	perUnit := 8 + rng.Intn(8) // 8..15 steps per complexity unit
	steps := int(float64(complexity*perUnit) / p.SpeedMultiplier)
	if steps < 5 {
		steps = 5
	}

	pl := plan{steps: steps}
	if rng.Float64() < p.FailureRate {
		pl.failAt = 1 + rng.Intn(steps)
		pl.failCause = randomTransientError(rng)
	}

	pl.stepTokens = make([]int, steps)
	for i := range pl.stepTokens {
		pl.stepTokens[i] = p.tokensForStep(rng)
	}
	return pl
}

// cost returns the USD cost of the given token count under the profile
func (p Profile) cost(tokens int) float64 {
	return float64(tokens) / 1000 * p.CostPer1KTokens
}

// qualityScore rates the finished output. Tasks above the profile's
// comfortable complexity degrade.
func qualityScore(complexity int, p Profile, rng *rand.Rand) float64 {
	score := 0.7 + rng.Float64()*0.3
	if complexity > p.MaxComplexity {
		score -= 0.15 * float64(complexity-p.MaxComplexity)
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}

// throttleDelay converts the fleet throttle rate into extra per-step sleep.
// Rates at or above 1.0 add nothing; slower rates stretch each step.
func throttleDelay(rate float64) time.Duration {
	if rate >= 1.0 {
		return 0
	}
	if rate < 0.1 {
		rate = 0.1
	}
	return time.Duration((1.0 - rate) * 2 * float64(time.Second))
}
