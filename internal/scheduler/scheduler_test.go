package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/internal/events"
)

type fakeJob struct {
	name string
	runs int
	err  error
}

func (f *fakeJob) Run() error {
	f.runs++
	return f.err
}

func (f *fakeJob) Name() string { return f.name }

func newTestScheduler(t *testing.T) (*Scheduler, *events.Bus) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	bus := events.NewBus(log)
	return New(bus, log), bus
}

func TestRunNowExecutesRegisteredJob(t *testing.T) {
	s, bus := newTestScheduler(t)
	job := &fakeJob{name: "demo"}

	var seen []events.EventType
	bus.Subscribe(events.JobStarted, func(e *events.Event) { seen = append(seen, e.Type) })
	bus.Subscribe(events.JobCompleted, func(e *events.Event) { seen = append(seen, e.Type) })

	require.NoError(t, s.AddJob("@every 1h", job))
	require.NoError(t, s.RunNow("demo"))

	assert.Equal(t, 1, job.runs)
	assert.Equal(t, []events.EventType{events.JobStarted, events.JobCompleted}, seen)
}

func TestRunNowUnknownJob(t *testing.T) {
	s, _ := newTestScheduler(t)

	err := s.RunNow("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestAddJobRejectsDuplicateNames(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "demo"}))
	err := s.AddJob("@every 2h", &fakeJob{name: "demo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)

	err := s.AddJob("not a schedule", &fakeJob{name: "demo"})
	require.Error(t, err)

	// A job that failed to schedule must not be reachable by name
	assert.Error(t, s.RunNow("demo"))
}

func TestJobFailureEmitsEvent(t *testing.T) {
	s, bus := newTestScheduler(t)
	job := &fakeJob{name: "demo", err: errors.New("boom")}

	var failed []*events.Event
	bus.Subscribe(events.JobFailed, func(e *events.Event) { failed = append(failed, e) })

	require.NoError(t, s.AddJob("@every 1h", job))
	err := s.RunNow("demo")
	require.Error(t, err)

	require.Len(t, failed, 1)
	data, ok := failed[0].GetTypedData().(*events.JobStatusData)
	require.True(t, ok, "expected JobStatusData, got %T", failed[0].GetTypedData())
	assert.Equal(t, "demo", data.Job)
	assert.Equal(t, "failed", data.Status)
	assert.Equal(t, "boom", data.Error)
}

func TestJobNamesAreSorted(t *testing.T) {
	s, _ := newTestScheduler(t)

	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "zeta"}))
	require.NoError(t, s.AddJob("@every 1h", &fakeJob{name: "alpha"}))

	assert.Equal(t, []string{"alpha", "zeta"}, s.JobNames())
}
