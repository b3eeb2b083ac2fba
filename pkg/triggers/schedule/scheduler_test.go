package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	runAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		config  models.ScheduleTriggerConfig
		wantErr bool
	}{
		{"cron", models.ScheduleTriggerConfig{Cron: "*/5 * * * *"}, false},
		{"cron with timezone", models.ScheduleTriggerConfig{Cron: "0 9 * * 1-5", Timezone: "Europe/Berlin"}, false},
		{"interval", models.ScheduleTriggerConfig{Interval: 1000}, false},
		{"run at", models.ScheduleTriggerConfig{RunAt: &runAt}, false},
		{"invalid cron", models.ScheduleTriggerConfig{Cron: "every minute"}, true},
		{"unknown timezone", models.ScheduleTriggerConfig{Cron: "* * * * *", Timezone: "Mars/Olympus"}, true},
		{"negative interval", models.ScheduleTriggerConfig{Interval: -1}, true},
		{"nothing", models.ScheduleTriggerConfig{}, true},
		{"two schedules", models.ScheduleTriggerConfig{Cron: "* * * * *", Interval: 1000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduler_Interval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	scheduler := NewScheduler(log.Discard(), clock)

	fired := make(chan time.Time, 10)

	err := scheduler.Add("trg_1", &models.ScheduleTriggerConfig{Interval: 60000}, func(_ context.Context, at time.Time) {
		fired <- at
	})
	require.NoError(t, err)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	for range 2 {
		clock.Advance(time.Minute)

		select {
		case <-fired:
		case <-ctx.Done():
			t.Fatal("interval did not fire")
		}
	}

	scheduler.Remove("trg_1")
	assert.Equal(t, 0, scheduler.Len())

	scheduler.Stop()
}

func TestScheduler_RunAt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	scheduler := NewScheduler(log.Discard(), clock)
	defer scheduler.Stop()

	runAt := clock.Now().Add(time.Hour)
	fired := make(chan struct{}, 1)

	err := scheduler.Add("trg_1", &models.ScheduleTriggerConfig{RunAt: &runAt}, func(context.Context, time.Time) {
		fired <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(30 * time.Minute)

	select {
	case <-fired:
		t.Fatal("fired before run_at")
	default:
	}

	clock.Advance(30 * time.Minute)

	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("run_at did not fire")
	}
}

func TestScheduler_AddTwice(t *testing.T) {
	scheduler := NewScheduler(log.Discard(), clockwork.NewFakeClock())
	defer scheduler.Stop()

	config := &models.ScheduleTriggerConfig{Cron: "0 * * * *"}
	noop := func(context.Context, time.Time) {}

	require.NoError(t, scheduler.Add("trg_1", config, noop))

	err := scheduler.Add("trg_1", config, noop)
	require.ErrorIs(t, err, ErrAlreadyScheduled)

	assert.Equal(t, 1, scheduler.Len())

	scheduler.Remove("trg_1")
	scheduler.Remove("trg_unknown")
	assert.Equal(t, 0, scheduler.Len())
}
