package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron_Next(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 7, 30, 0, time.UTC) // Tuesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"5 0 * * *", time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)},
		{"0 3 * * 1", time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC)},
		{"0 12 1 * *", time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
		{"30 9-17/4 * * *", time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)},
		{"0,45 9 * * *", time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Next(base))
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 10m")
	require.NoError(t, err)
	assert.Equal(t, Every(10*time.Minute), s)
	assert.Equal(t, "@every 10m0s", s.String())

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", s.String())

	_, err = ParseSchedule("@every soon")
	assert.Error(t, err)
}

type countJob struct {
	runs atomic.Int32
	err  error
}

func (j *countJob) Name() string        { return "count" }
func (j *countJob) Description() string { return "counts runs" }
func (j *countJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RunNowAndHistory(t *testing.T) {
	s := New(Config{})
	job := &countJob{}
	require.NoError(t, s.Register(job, Every(time.Hour)))
	assert.ErrorIs(t, s.Register(job, Every(time.Hour)), ErrJobAlreadyExists)

	res, err := s.RunNow(context.Background(), "count")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	job.err = errors.New("boom")
	_, err = s.RunNow(context.Background(), "count")
	assert.EqualError(t, err, "boom")

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.EqualValues(t, 2, infos[0].RunCount)
	assert.EqualValues(t, 1, infos[0].FailCount)
	assert.Len(t, s.History(0), 2)
}

func TestScheduler_LoopRunsDueJobs(t *testing.T) {
	s := New(Config{Tick: 5 * time.Millisecond})
	job := &countJob{}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
