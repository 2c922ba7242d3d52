package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// RunFunc executes one batch scan for a configuration profile. The
// scheduler invokes it on every tick of the profile's job.
type RunFunc func(cfg *types.Config)

// Scheduler drives periodic mailbox scans from the scheduling section of
// each configuration profile. Jobs are keyed by profile ID so a reloaded
// configuration replaces its previous schedule.
type Scheduler struct {
	scheduler *gocron.Scheduler
	run       RunFunc
	logger    *slog.Logger
	jobs      map[string]*gocron.Job
	mu        sync.Mutex
}

func NewScheduler(run RunFunc, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		run:       run,
		logger:    logger,
		jobs:      make(map[string]*gocron.Job),
	}
}

// Start begins executing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// UpdateJob creates or replaces the scan job for a configuration profile.
func (s *Scheduler) UpdateJob(cfg *types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[cfg.Meta.ID]; exists {
		s.scheduler.RemoveByReference(job)
		delete(s.jobs, cfg.Meta.ID)
	}

	if !cfg.Scheduling.Enabled {
		s.logger.Info("scheduling disabled for configuration", "id", cfg.Meta.ID)
		return nil
	}

	var stopAt time.Time
	if cfg.Scheduling.StopAt != "" {
		parsed, err := time.Parse(time.RFC3339, cfg.Scheduling.StopAt)
		if err != nil {
			return fmt.Errorf("invalid stop time: %w", err)
		}
		if parsed.Before(time.Now().UTC()) {
			s.logger.Warn("skipping job, stop time is in the past",
				"id", cfg.Meta.ID,
				"name", cfg.Meta.Name,
				"stop_at", cfg.Scheduling.StopAt,
			)
			return nil
		}
		stopAt = parsed
	}

	job := s.scheduler.Every(cfg.Scheduling.FrequencyAmount)

	switch cfg.Scheduling.FrequencyEvery {
	case "minute":
		job = job.Minutes()
	case "hour":
		job = job.Hours()
	case "day":
		job = job.Days()
	case "week":
		job = job.Weeks()
	case "month":
		job = job.Months()
	default:
		return fmt.Errorf("invalid frequency: %s", cfg.Scheduling.FrequencyEvery)
	}

	// Duration jobs fire immediately once the scheduler starts unless
	// told otherwise, which is exactly what start_now asks for.
	if cfg.Scheduling.StartAt != "" {
		startTime, err := time.Parse(time.RFC3339, cfg.Scheduling.StartAt)
		if err != nil {
			return fmt.Errorf("invalid start time: %w", err)
		}
		job = job.StartAt(startTime)
	} else if !cfg.Scheduling.StartNow {
		job = job.WaitForSchedule()
	}

	if !stopAt.IsZero() {
		job = job.Until(stopAt)
	}

	scheduled, err := job.Do(func() {
		s.logger.Info("executing scheduled scan",
			"config_id", cfg.Meta.ID,
			"time", time.Now().UTC(),
		)
		s.run(cfg)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	s.jobs[cfg.Meta.ID] = scheduled

	s.logger.Info("scheduled job updated",
		"id", cfg.Meta.ID,
		"frequency", fmt.Sprintf("every %d %s", cfg.Scheduling.FrequencyAmount, cfg.Scheduling.FrequencyEvery),
		"start_now", cfg.Scheduling.StartNow,
		"start_at", cfg.Scheduling.StartAt,
		"stop_at", cfg.Scheduling.StopAt,
	)

	return nil
}

// RemoveJob unschedules the job for a configuration profile.
func (s *Scheduler) RemoveJob(configID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(configID)
}

// Sync reconciles scheduled jobs with the given configuration set.
// Profiles that disappeared since the last sync are unscheduled, the
// rest are rescheduled from their current settings.
func (s *Scheduler) Sync(configs []*types.Config) {
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		seen[cfg.Meta.ID] = true
		if err := s.UpdateJob(cfg); err != nil {
			s.logger.Error("failed to schedule configuration",
				"id", cfg.Meta.ID,
				"error", err,
			)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		if !seen[id] {
			s.removeLocked(id)
		}
	}
}

func (s *Scheduler) removeLocked(configID string) {
	if job, exists := s.jobs[configID]; exists {
		s.scheduler.RemoveByReference(job)
		delete(s.jobs, configID)
		s.logger.Info("removed scheduled job", "id", configID)
	}
}
