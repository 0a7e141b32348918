package pruning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	store := newFailingStore(t, "")
	engine, err := NewEngine(store, DefaultPolicy())
	require.NoError(t, err)

	err = engine.ScheduleAutomaticPruning("not a cron line")
	require.Error(t, err, "invalid cron expressions must be rejected synchronously")
	assert.Contains(t, err.Error(), "invalid cron expression")

	// Nothing was scheduled, so stopping is a no-op.
	engine.StopAutomaticPruning()
}

func TestScheduleStartStop(t *testing.T) {
	store := newFailingStore(t, "")
	engine, err := NewEngine(store, DefaultPolicy())
	require.NoError(t, err)

	defer goleak.VerifyNone(t,
		// The record store's append goroutine outlives this test body; its
		// cleanup runs after goleak in t.Cleanup order.
		goleak.IgnoreTopFunction("github.com/tosin2013/documcp-sub005/internal/memory.(*Store).appendLoop"),
	)

	require.NoError(t, engine.ScheduleAutomaticPruning("0 3 * * *"))
	// Replacing an existing schedule tears the old loop down first.
	require.NoError(t, engine.ScheduleAutomaticPruning("30 2 * * 0"))

	engine.StopAutomaticPruning()
	// Stop is idempotent.
	engine.StopAutomaticPruning()
}

func TestScheduledRunFires(t *testing.T) {
	store := newFailingStore(t, "")
	seedEntries(t, store, 1)

	policy := DefaultPolicy()
	policy.MaxAgeDays = 1
	policy.BackupBeforePrune = false
	engine := agedEngine(t, store, policy, 48*time.Hour)

	fired := make(chan Event, 4)
	engine.Subscribe(func(ev Event) {
		if ev.Type == EventPruningCompleted {
			select {
			case fired <- ev:
			default:
			}
		}
	})

	// Every-minute schedule with the engine clock parked just before the
	// tick keeps the wait short. The clock also sits two days ahead so the
	// seeded entries age past the policy.
	base := time.Now()
	engine.now = func() time.Time {
		return base.Truncate(time.Minute).Add(59*time.Second + 950*time.Millisecond).Add(48 * time.Hour)
	}
	require.NoError(t, engine.ScheduleAutomaticPruning("* * * * *"))
	defer engine.StopAutomaticPruning()

	select {
	case ev := <-fired:
		require.NotNil(t, ev.Result)
		assert.Equal(t, 1, ev.Result.EntriesRemoved)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not fire")
	}
}
