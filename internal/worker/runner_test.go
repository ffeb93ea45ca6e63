package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/helpdesk-labs/support-chat/internal/observability"
)

func TestRunner_RunsJobsUntilStopped(t *testing.T) {
	var ticks, panics atomic.Int32
	runner := NewRunner(zap.NewNop(),
		Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) { ticks.Add(1) }},
		Job{Name: "flaky", Interval: 5 * time.Millisecond, Run: func(context.Context) {
			panics.Add(1)
			panic("boom")
		}},
		Job{Name: "disabled", Interval: 0, Run: func(context.Context) { t.Error("disabled job ran") }},
	)
	runner.Start(context.Background())

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3 && panics.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "a panicking job keeps its schedule")

	runner.Stop()
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())
}

func TestRunner_StopWithoutStart(t *testing.T) {
	runner := NewRunner(zap.NewNop())
	assert.NotPanics(t, runner.Stop)
}

func TestStatsJob_Logs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := observability.NewMetrics()
	metrics.RecordEvent("inbound.ping")

	job := StatsJob(func() int { return 3 }, func() int { return 2 }, metrics, time.Minute, zap.New(core))
	job.Run(context.Background())

	entries := logs.FilterMessage("realtime stats").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, int64(3), fields["connections"])
		assert.Equal(t, int64(2), fields["online"])
	}
}
