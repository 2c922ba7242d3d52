package scheduler

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

func newTestScheduler() *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(func(cfg *types.Config) {}, logger)
}

func scheduledConfig(id string) *types.Config {
	cfg := &types.Config{}
	cfg.Meta.ID = id
	cfg.Meta.Name = "Test " + id
	cfg.Scheduling.Enabled = true
	cfg.Scheduling.FrequencyEvery = "hour"
	cfg.Scheduling.FrequencyAmount = 1
	return cfg
}

func (s *Scheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func TestUpdateJobSchedulesProfile(t *testing.T) {
	s := newTestScheduler()

	if err := s.UpdateJob(scheduledConfig("profile-a")); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if got := s.jobCount(); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}

	// Rescheduling the same profile replaces the job instead of stacking.
	if err := s.UpdateJob(scheduledConfig("profile-a")); err != nil {
		t.Fatalf("UpdateJob again: %v", err)
	}
	if got := s.jobCount(); got != 1 {
		t.Errorf("jobs after reschedule = %d, want 1", got)
	}
}

func TestUpdateJobRemovesDisabledProfile(t *testing.T) {
	s := newTestScheduler()
	if err := s.UpdateJob(scheduledConfig("profile-a")); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	cfg := scheduledConfig("profile-a")
	cfg.Scheduling.Enabled = false
	if err := s.UpdateJob(cfg); err != nil {
		t.Fatalf("UpdateJob disabled: %v", err)
	}
	if got := s.jobCount(); got != 0 {
		t.Errorf("jobs = %d, want 0 after disabling", got)
	}
}

func TestUpdateJobSkipsPastStopTime(t *testing.T) {
	s := newTestScheduler()
	cfg := scheduledConfig("profile-a")
	cfg.Scheduling.StopAt = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	if err := s.UpdateJob(cfg); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if got := s.jobCount(); got != 0 {
		t.Errorf("jobs = %d, want 0 when stop time already passed", got)
	}
}

func TestUpdateJobRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *types.Config)
		want   string
	}{
		{
			name:   "unknown frequency",
			mutate: func(cfg *types.Config) { cfg.Scheduling.FrequencyEvery = "fortnight" },
			want:   "invalid frequency",
		},
		{
			name:   "malformed start time",
			mutate: func(cfg *types.Config) { cfg.Scheduling.StartAt = "next tuesday" },
			want:   "invalid start time",
		},
		{
			name:   "malformed stop time",
			mutate: func(cfg *types.Config) { cfg.Scheduling.StopAt = "later" },
			want:   "invalid stop time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler()
			cfg := scheduledConfig("profile-a")
			tt.mutate(cfg)

			err := s.UpdateJob(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("UpdateJob err = %v, want %q", err, tt.want)
			}
			if got := s.jobCount(); got != 0 {
				t.Errorf("jobs = %d, want 0 after failed update", got)
			}
		})
	}
}

func TestSyncRemovesVanishedProfiles(t *testing.T) {
	s := newTestScheduler()
	s.Sync([]*types.Config{scheduledConfig("profile-a"), scheduledConfig("profile-b")})
	if got := s.jobCount(); got != 2 {
		t.Fatalf("jobs = %d, want 2", got)
	}

	s.Sync([]*types.Config{scheduledConfig("profile-b")})
	if got := s.jobCount(); got != 1 {
		t.Errorf("jobs = %d, want 1 after profile-a vanished", got)
	}

	s.mu.Lock()
	_, hasA := s.jobs["profile-a"]
	_, hasB := s.jobs["profile-b"]
	s.mu.Unlock()
	if hasA || !hasB {
		t.Errorf("remaining jobs a=%v b=%v, want only profile-b", hasA, hasB)
	}
}

func TestRemoveJob(t *testing.T) {
	s := newTestScheduler()
	if err := s.UpdateJob(scheduledConfig("profile-a")); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	s.RemoveJob("profile-a")
	if got := s.jobCount(); got != 0 {
		t.Errorf("jobs = %d, want 0", got)
	}

	// Removing an unknown profile is a no-op.
	s.RemoveJob("profile-zzz")
}
