package worker

import (
	"math/rand"
	"sort"

	"github.com/droverhq/drover/pkg/types"
)

// Profile describes the performance envelope of a simulated model backend
type Profile struct {
	Name            string
	SpeedMultiplier float64 // >1 finishes faster
	TokenRateMin    int     // tokens per step, lower bound
	TokenRateMax    int     // tokens per step, upper bound
	CostPer1KTokens float64 // USD
	FailureRate     float64 // probability a task hits a transient failure
	MaxComplexity   int     // highest complexity the profile handles well
}

// profiles is the model roster. Rates and costs are representative, not
// billing-accurate.
var profiles = map[string]Profile{
	"gpt-4":           {Name: "gpt-4", SpeedMultiplier: 1.0, TokenRateMin: 20, TokenRateMax: 60, CostPer1KTokens: 0.03, FailureRate: 0.04, MaxComplexity: 10},
	"gpt-4-turbo":     {Name: "gpt-4-turbo", SpeedMultiplier: 1.4, TokenRateMin: 40, TokenRateMax: 90, CostPer1KTokens: 0.01, FailureRate: 0.04, MaxComplexity: 10},
	"gpt-3.5-turbo":   {Name: "gpt-3.5-turbo", SpeedMultiplier: 2.0, TokenRateMin: 60, TokenRateMax: 120, CostPer1KTokens: 0.002, FailureRate: 0.06, MaxComplexity: 6},
	"claude-3-opus":   {Name: "claude-3-opus", SpeedMultiplier: 0.9, TokenRateMin: 25, TokenRateMax: 70, CostPer1KTokens: 0.015, FailureRate: 0.03, MaxComplexity: 10},
	"claude-3-sonnet": {Name: "claude-3-sonnet", SpeedMultiplier: 1.5, TokenRateMin: 40, TokenRateMax: 100, CostPer1KTokens: 0.003, FailureRate: 0.04, MaxComplexity: 8},
	"claude-3-haiku":  {Name: "claude-3-haiku", SpeedMultiplier: 2.5, TokenRateMin: 80, TokenRateMax: 160, CostPer1KTokens: 0.00025, FailureRate: 0.05, MaxComplexity: 5},
	"gemini-pro":      {Name: "gemini-pro", SpeedMultiplier: 1.3, TokenRateMin: 35, TokenRateMax: 85, CostPer1KTokens: 0.0005, FailureRate: 0.05, MaxComplexity: 7},
	"gemini-ultra":    {Name: "gemini-ultra", SpeedMultiplier: 0.95, TokenRateMin: 25, TokenRateMax: 65, CostPer1KTokens: 0.02, FailureRate: 0.04, MaxComplexity: 10},
	"llama-3-70b":     {Name: "llama-3-70b", SpeedMultiplier: 1.1, TokenRateMin: 30, TokenRateMax: 75, CostPer1KTokens: 0.0009, FailureRate: 0.07, MaxComplexity: 8},
	"llama-3-8b":      {Name: "llama-3-8b", SpeedMultiplier: 2.8, TokenRateMin: 90, TokenRateMax: 180, CostPer1KTokens: 0.0002, FailureRate: 0.08, MaxComplexity: 4},
	"mistral-large":   {Name: "mistral-large", SpeedMultiplier: 1.2, TokenRateMin: 35, TokenRateMax: 80, CostPer1KTokens: 0.008, FailureRate: 0.05, MaxComplexity: 8},
	"mixtral-8x7b":    {Name: "mixtral-8x7b", SpeedMultiplier: 1.8, TokenRateMin: 55, TokenRateMax: 110, CostPer1KTokens: 0.0007, FailureRate: 0.06, MaxComplexity: 6},
}

// defaultProfile backs unknown profile names so a misconfigured worker
// still runs
var defaultProfile = profiles["gpt-4"]

// LookupProfile returns the profile for a model name, falling back to the
// default envelope for unknown names
func LookupProfile(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return defaultProfile
}

// ProfileNames returns the roster in stable order
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecommendProfile picks the cheapest profile whose envelope covers the
// given complexity
func RecommendProfile(complexity int) Profile {
	best := defaultProfile
	found := false
	for _, p := range profiles {
		if p.MaxComplexity < complexity {
			continue
		}
		if !found || p.CostPer1KTokens < best.CostPer1KTokens {
			best = p
			found = true
		}
	}
	return best
}

// tokensForStep draws a per-step token count from the profile's rate band
func (p Profile) tokensForStep(rng *rand.Rand) int {
	if p.TokenRateMax <= p.TokenRateMin {
		return p.TokenRateMin
	}
	return p.TokenRateMin + rng.Intn(p.TokenRateMax-p.TokenRateMin+1)
}

// transientErrors is the lexicon of retryable failure causes. The DLQ
// reprocessor keys off these substrings when deciding to requeue.
var transientErrors = []string{
	"upstream timeout while streaming tokens",
	"connection reset by inference backend",
	"network unreachable during model fetch",
	"rate limit exceeded for model endpoint",
	"backend overload, request shed",
	"inference backend busy, queue full",
	"model endpoint temporarily unavailable",
}

// randomTransientError picks a retryable failure cause
func randomTransientError(rng *rand.Rand) string {
	return transientErrors[rng.Intn(len(transientErrors))]
}

// phases maps progress ranges to human-readable status messages
var phases = []struct {
	upTo     int // progress percentage bound, inclusive
	messages []string
}{
	{10, []string{"initializing model context", "loading task parameters"}},
	{35, []string{"processing input tokens", "reading source material"}},
	{65, []string{"analyzing intermediate results", "running inference passes"}},
	{90, []string{"generating output", "composing response"}},
	{100, []string{"finalizing response", "validating output quality"}},
}

// statusMessage returns a phase-appropriate progress message
func statusMessage(progress int, rng *rand.Rand) string {
	for _, phase := range phases {
		if progress <= phase.upTo {
			return phase.messages[rng.Intn(len(phase.messages))]
		}
	}
	return "finalizing response"
}

// capabilitiesForProfile derives what task types a profile serves. Small
// fast models skip the heavyweight analysis types.
func capabilitiesForProfile(p Profile) []types.TaskType {
	all := []types.TaskType{
		types.TaskTypeTextProcessing, types.TaskTypeCodeGeneration,
		types.TaskTypeDataAnalysis, types.TaskTypeWebScraping,
		types.TaskTypeAPICall, types.TaskTypeFileProcessing,
		types.TaskTypeComputation,
	}
	if p.MaxComplexity >= 7 {
		return all
	}
	return []types.TaskType{
		types.TaskTypeTextProcessing, types.TaskTypeWebScraping,
		types.TaskTypeAPICall, types.TaskTypeFileProcessing,
	}
}
