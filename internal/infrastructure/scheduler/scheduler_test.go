package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestParseSchedule(t *testing.T) {
	base := time.Date(2024, 3, 4, 10, 17, 30, 0, time.UTC) // Monday

	tests := []struct {
		spec string
		want time.Time
	}{
		{"@every 90s", base.Add(90 * time.Second)},
		{"@hourly", time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)},
		{"0 3 * * 0", time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)},
		{"5,45 10-11 * * 1-5", time.Date(2024, 3, 4, 10, 45, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParseSchedule(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Next(base))
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, spec := range []string{"", "@every", "@every -1m", "* * *", "61 * * * *", "*/0 * * * *", "5-1 * * * *"} {
		_, err := ParseSchedule(spec)
		assert.ErrorIs(t, err, ErrInvalidSchedule, spec)
	}
}

func TestScheduler_RunsDueJobsWithoutOverlap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Logger: quiet, TickInterval: 5 * time.Millisecond})

	var running, maxRunning, runs int32
	job := funcJob{name: "audit", run: func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.GreaterOrEqual(t, infos[0].RunCount, int64(2))
}

func TestScheduler_RunNowRecordsFailuresAndPanics(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Logger: quiet, JobTimeout: time.Second})

	var reported []string
	s.OnJobError(func(name string, err error) { reported = append(reported, name) })

	boom := errors.New("boom")
	require.NoError(t, s.Register(funcJob{name: "fails", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "panics", run: func(context.Context) error { panic("bad") }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "fails")
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Manual)
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, []string{"fails", "panics"}, reported)
	assert.Len(t, s.History(0), 2)
	assert.Len(t, s.History(1), 1)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Logger: quiet, JobTimeout: 10 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "slow", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
