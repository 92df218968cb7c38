package task

import (
	"context"
	"testing"
	"time"

	"datavault-go/internal/config"
	"datavault-go/internal/service"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

type fakeUploads struct {
	service.UploadService
	ages []time.Duration
}

func (f *fakeUploads) CancelStale(ctx context.Context, age time.Duration) (int, error) {
	f.ages = append(f.ages, age)
	return 2, nil
}

type fakeConsistency struct {
	service.ConsistencyService
	runs int
}

func (f *fakeConsistency) RecalculateSizes(ctx context.Context, progress service.ProgressSink) (int, error) {
	f.runs++
	return 0, nil
}

func TestScheduler_Registration(t *testing.T) {
	uploads := &fakeUploads{}
	consistency := &fakeConsistency{}

	s, err := NewScheduler(config.ScheduleConfig{StaleUploadCleanup: "@every 1h", RecalculateSizes: "0 3 * * *"}, time.Hour, uploads, consistency)
	require.NoError(t, err)
	require.Equal(t, 2, s.Entries())

	s, err = NewScheduler(config.ScheduleConfig{StaleUploadCleanup: "@every 1h"}, time.Hour, uploads, consistency)
	require.NoError(t, err)
	require.Equal(t, 1, s.Entries())

	_, err = NewScheduler(config.ScheduleConfig{RecalculateSizes: "not a schedule"}, time.Hour, uploads, consistency)
	require.True(t, errors.Is(err, errors.NotValid))
}

func TestJobs_Run(t *testing.T) {
	uploads := &fakeUploads{}
	NewStaleUploadCleanupJob(uploads, 72*time.Hour).Run()
	require.Equal(t, []time.Duration{72 * time.Hour}, uploads.ages)

	consistency := &fakeConsistency{}
	NewRecalculateSizesJob(consistency).Run()
	require.Equal(t, 1, consistency.runs)
}
