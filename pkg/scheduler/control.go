package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// Throttle rate bounds. 1.0 is full speed; below 1.0 stretches every
// worker step, above lifts an earlier slowdown.
const (
	MinThrottleRate = 0.1
	MaxThrottleRate = 2.0
)

// ErrInvalidThrottle is returned for rates outside the accepted band
var ErrInvalidThrottle = errors.New("throttle rate out of range")

// PauseAll sets the fleet-wide pause flag. The flag carries a TTL so a
// forgotten pause lifts itself after an hour.
func (s *Scheduler) PauseAll(ctx context.Context) error {
	if err := s.store.Set(ctx, types.SystemPausedKey, "1", types.PauseTTL); err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	if err := s.bus.PublishSystemAlert(ctx, "scheduler", "warning", "fleet paused by operator", nil); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish pause alert")
	}
	s.logger.Warn().Msg("fleet paused")
	return nil
}

// ResumeAll lifts the fleet-wide pause flag
func (s *Scheduler) ResumeAll(ctx context.Context) error {
	if err := s.store.Delete(ctx, types.SystemPausedKey); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("failed to clear pause flag: %w", err)
	}
	if err := s.bus.PublishSystemAlert(ctx, "scheduler", "info", "fleet resumed", nil); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish resume alert")
	}
	s.logger.Info().Msg("fleet resumed")
	return nil
}

// PauseWorker pauses one worker without touching the rest of the fleet
func (s *Scheduler) PauseWorker(ctx context.Context, workerID string) error {
	if _, err := s.store.GetHash(ctx, types.WorkerKey(workerID)); err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("worker %s has no live record: %w", workerID, store.ErrNotFound)
		}
		return fmt.Errorf("failed to check worker record: %w", err)
	}
	if err := s.store.Set(ctx, types.WorkerPausedKey(workerID), "1", types.PauseTTL); err != nil {
		return fmt.Errorf("failed to pause worker: %w", err)
	}
	s.logger.Info().Str("worker_id", workerID).Msg("worker paused")
	return nil
}

// ResumeWorker lifts a single worker's pause flag
func (s *Scheduler) ResumeWorker(ctx context.Context, workerID string) error {
	if err := s.store.Delete(ctx, types.WorkerPausedKey(workerID)); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("failed to resume worker: %w", err)
	}
	s.logger.Info().Str("worker_id", workerID).Msg("worker resumed")
	return nil
}

// SetThrottle sets the fleet execution rate multiplier
func (s *Scheduler) SetThrottle(ctx context.Context, rate float64) error {
	if rate < MinThrottleRate || rate > MaxThrottleRate {
		return fmt.Errorf("%w: %.2f not in [%.1f, %.1f]", ErrInvalidThrottle, rate, MinThrottleRate, MaxThrottleRate)
	}
	if err := s.store.Set(ctx, types.SystemThrottleKey, strconv.FormatFloat(rate, 'f', 2, 64), 0); err != nil {
		return fmt.Errorf("failed to set throttle rate: %w", err)
	}
	severity := "info"
	if rate < 1.0 {
		severity = "warning"
	}
	if err := s.bus.PublishSystemAlert(ctx, "scheduler", severity, "fleet throttle changed", map[string]interface{}{
		"rate": rate,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish throttle alert")
	}
	s.logger.Info().Float64("rate", rate).Msg("fleet throttle set")
	return nil
}

// StopNew toggles admission of new tasks. Running and queued work is
// unaffected.
func (s *Scheduler) StopNew(ctx context.Context, stop bool) error {
	if stop {
		if err := s.store.Set(ctx, types.SystemStopNewKey, "1", 0); err != nil {
			return fmt.Errorf("failed to set stop-new flag: %w", err)
		}
		s.logger.Warn().Msg("new task admission stopped")
	} else {
		if err := s.store.Delete(ctx, types.SystemStopNewKey); err != nil && err != store.ErrNotFound {
			return fmt.Errorf("failed to clear stop-new flag: %w", err)
		}
		s.logger.Info().Msg("new task admission reopened")
	}
	return nil
}

// SystemStatus is the operator's view of the fleet controls and queues
type SystemStatus struct {
	Paused       bool        `json:"paused"`
	StopNew      bool        `json:"stop_new"`
	ThrottleRate float64     `json:"throttle_rate"`
	Statistics   *Statistics `json:"statistics"`
}

// Status reports the control flags and current queue statistics
func (s *Scheduler) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{ThrottleRate: 1.0}

	var err error
	if status.Paused, err = s.store.Exists(ctx, types.SystemPausedKey); err != nil {
		return nil, fmt.Errorf("failed to read pause flag: %w", err)
	}
	if status.StopNew, err = s.store.Exists(ctx, types.SystemStopNewKey); err != nil {
		return nil, fmt.Errorf("failed to read stop-new flag: %w", err)
	}
	if val, err := s.store.Get(ctx, types.SystemThrottleKey); err == nil {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			status.ThrottleRate = rate
		}
	}

	if status.Statistics, err = s.Stats(ctx); err != nil {
		return nil, err
	}
	return status, nil
}
