package health

import (
	"context"
	"time"
)

// Severity grades a health finding
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Result is one finding from a checker. Healthy results carry
// SeverityInfo and are recorded but never alerted.
type Result struct {
	Component string
	Severity  Severity
	Message   string
	Value     float64
	CheckedAt time.Time
}

// Healthy reports whether the finding needs no attention
func (r Result) Healthy() bool {
	return r.Severity == SeverityInfo
}

// Checker probes one aspect of the system
type Checker interface {
	// Check runs the probe and returns its findings
	Check(ctx context.Context) []Result

	// Name identifies the checker in logs and the health record
	Name() string
}

// Status tracks consecutive outcomes for a component so flapping probes
// do not page anyone
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus assumes healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds in a new finding. A component goes unhealthy only after
// `retries` consecutive failures.
func (s *Status) Update(result Result, retries int) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy() {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= retries {
		s.Healthy = false
	}
}
