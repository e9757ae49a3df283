// Package scheduler runs the background jobs on cron schedules and
// lets the HTTP layer kick them by name.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/events"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron     *cron.Cron
	eventBus *events.Bus
	log      zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]Job
}

// New creates a new scheduler
func New(eventBus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		eventBus: eventBus,
		log:      log.With().Str("component", "scheduler").Logger(),
		jobs:     make(map[string]Job),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a six-field cron schedule.
// Schedule examples:
//   - "0 */5 * * * *"       - Every 5 minutes
//   - "0 40 16 * * MON-FRI" - 16:40 on weekdays
//   - "@hourly"             - Every hour
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if job == nil || job.Name() == "" {
		return fmt.Errorf("job with a name is required")
	}

	s.mu.Lock()
	if _, exists := s.jobs[job.Name()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already registered", job.Name())
	}
	s.jobs[job.Name()] = job
	s.mu.Unlock()

	_, err := s.cron.AddFunc(schedule, func() {
		// Scheduled failures are logged and emitted; there is nobody
		// to return the error to.
		_ = s.execute(job)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.Name())
		s.mu.Unlock()
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a registered job immediately, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job %s is not registered", name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.execute(job)
}

// JobNames returns the registered job names, sorted
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// execute runs one job with logging and bus events around it
func (s *Scheduler) execute(job Job) error {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")
	if s.eventBus != nil {
		s.eventBus.EmitTyped(events.JobStarted, "scheduler", &events.JobStatusData{
			Job:    job.Name(),
			Status: "started",
		})
	}

	start := time.Now()
	err := job.Run()
	elapsed := time.Since(start)

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("duration", elapsed).
			Msg("Job failed")
		if s.eventBus != nil {
			s.eventBus.EmitTyped(events.JobFailed, "scheduler", &events.JobStatusData{
				Job:        job.Name(),
				Status:     "failed",
				Error:      err.Error(),
				DurationMS: elapsed.Milliseconds(),
			})
		}
		return err
	}

	s.log.Debug().
		Str("job", job.Name()).
		Dur("duration", elapsed).
		Msg("Job completed")
	if s.eventBus != nil {
		s.eventBus.EmitTyped(events.JobCompleted, "scheduler", &events.JobStatusData{
			Job:        job.Name(),
			Status:     "completed",
			DurationMS: elapsed.Milliseconds(),
		})
	}
	return nil
}
