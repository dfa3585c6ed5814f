package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skunkworks-Digital/muxo/internal/store"
)

func TestScheduleRunsCampaignAtStartTime(t *testing.T) {
	st, d, _ := setup(t)
	st.SeedList(1, "+15551111111")

	sched := NewScheduler(d, noopLogger())
	campaign := store.Campaign{
		ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100,
		StartTime: time.Now().Add(20 * time.Millisecond),
	}
	sched.Schedule(context.Background(), campaign)

	require.Eventually(t, func() bool {
		return len(st.Attempts()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleRunsImmediatelyWhenStartTimeHasPassed(t *testing.T) {
	st, d, _ := setup(t)
	st.SeedList(1, "+15551111111")

	sched := NewScheduler(d, noopLogger())
	campaign := store.Campaign{
		ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100,
		StartTime: time.Now().Add(-time.Hour),
	}
	sched.Schedule(context.Background(), campaign)

	require.Eventually(t, func() bool {
		return len(st.Attempts()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelAbandonsUnfiredJob(t *testing.T) {
	st, d, _ := setup(t)
	st.SeedList(1, "+15551111111")

	sched := NewScheduler(d, noopLogger())
	campaign := store.Campaign{
		ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100,
		StartTime: time.Now().Add(50 * time.Millisecond),
	}
	sched.Schedule(context.Background(), campaign)
	sched.Cancel(campaign.ID)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, st.Attempts())
}
