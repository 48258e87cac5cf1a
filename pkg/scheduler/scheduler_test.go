package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEveryStopsCleanly(t *testing.T) {
	s := New(zap.NewNop())
	var runs atomic.Int32
	s.Every(5*time.Millisecond, FuncJob("tick", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Every(5*time.Millisecond, FuncJob("failing", func(ctx context.Context) error {
		return errors.New("boom")
	}))

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestRunJobRecoversPanic(t *testing.T) {
	err := runJob(context.Background(), zap.NewNop(), FuncJob("panic", func(ctx context.Context) error {
		panic("bad job")
	}))
	assert.Error(t, err)
}

func TestCronRegistersAndStops(t *testing.T) {
	c := NewCron(time.UTC, zap.NewNop(), time.Second)
	_, err := c.Add("*/5 * * * *", FuncJob("sweep", func(ctx context.Context) error { return nil }))
	require.NoError(t, err)
	_, err = c.Add("not a cron", FuncJob("bad", func(ctx context.Context) error { return nil }))
	assert.Error(t, err)

	c.Start()
	assert.Len(t, c.Entries(), 1)
	c.Stop()
}
