package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
	"github.com/Skunkworks-Digital/muxo/internal/store/memstore"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a controllable Clock: Now() is fixed unless advanced, and
// Sleep advances it immediately instead of blocking, so tests run instantly
// while still exercising the real sleep-duration arithmetic.
type fakeClock struct {
	now     time.Time
	slept   []time.Duration
	blocked bool // if true, Sleep records but does not advance now
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) {
	c.slept = append(c.slept, d)
	if !c.blocked {
		c.now = c.now.Add(d)
	}
}

type fakeSender struct {
	sendCount int
	fail      bool
}

func (s *fakeSender) Send(ctx context.Context, segments []pdu.Segment) ([]string, error) {
	s.sendCount++
	if s.fail {
		return nil, assertErr{"send failed"}
	}
	return []string{"01"}, nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func setup(t *testing.T) (*memstore.Store, *Dispatcher, *fakeClock) {
	t.Helper()
	st := memstore.New()
	st.SeedDevice(1, "/dev/ttyUSB0", true)
	clk := &fakeClock{now: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)}
	d := &Dispatcher{
		Store:   st,
		Senders: map[int64]Sender{1: &fakeSender{}},
		Clock:   clk,
	}
	d.Log = noopLogger()
	return st, d, clk
}

func TestRunSendsToEachDedupedRecipient(t *testing.T) {
	st, d, _ := setup(t)
	st.SeedList(1, "+15551111111", "+15552222222", "+15551111111")

	campaign := store.Campaign{ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100}
	require.NoError(t, d.Run(context.Background(), campaign))

	attempts := st.Attempts()
	require.Len(t, attempts, 2, "duplicate msisdn must send only once")
	for _, a := range attempts {
		assert.Equal(t, store.StatusSent, a.Status)
	}
}

func TestRunSkipsOptedOutContacts(t *testing.T) {
	st, d, _ := setup(t)
	st.SeedList(1, "+15551111111", "+15552222222")
	c, _ := st.Contact("+15552222222")
	require.NoError(t, st.SetContactOptOut(context.Background(), c.ID, true))

	campaign := store.Campaign{ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100}
	require.NoError(t, d.Run(context.Background(), campaign))

	attempts := st.Attempts()
	require.Len(t, attempts, 1)
}

func TestRunAbortsWhenNoActiveDevices(t *testing.T) {
	st := memstore.New()
	st.SeedList(1, "+15551111111")
	clk := &fakeClock{now: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)}
	d := &Dispatcher{Store: st, Senders: map[int64]Sender{}, Clock: clk, Log: noopLogger()}

	campaign := store.Campaign{ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100}
	err := d.Run(context.Background(), campaign)
	require.Error(t, err)
	assert.Empty(t, st.Attempts())
}

func TestRunRoundRobinsAcrossDevices(t *testing.T) {
	st := memstore.New()
	st.SeedDevice(1, "/dev/ttyUSB0", true)
	st.SeedDevice(2, "/dev/ttyUSB1", true)
	st.SeedList(1, "+15551111111", "+15552222222", "+15553333333")
	clk := &fakeClock{now: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)}
	d := &Dispatcher{
		Store:   st,
		Senders: map[int64]Sender{1: &fakeSender{}, 2: &fakeSender{}},
		Clock:   clk,
		Log:     noopLogger(),
	}

	campaign := store.Campaign{ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100}
	require.NoError(t, d.Run(context.Background(), campaign))

	attempts := st.Attempts()
	require.Len(t, attempts, 3)
	assert.Equal(t, int64(1), attempts[0].DeviceID)
	assert.Equal(t, int64(2), attempts[1].DeviceID)
	assert.Equal(t, int64(1), attempts[2].DeviceID)
}

func TestRunEnforcesPerDeviceRateLimit(t *testing.T) {
	st, d, clk := setup(t)
	st.SeedList(1, "+15551111111", "+15552222222")

	campaign := store.Campaign{ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 2} // 1 per 500ms
	require.NoError(t, d.Run(context.Background(), campaign))

	require.Len(t, clk.slept, 1, "second send on the same device must sleep once for the rate limit")
	assert.Equal(t, 500*time.Millisecond, clk.slept[0])
}

func TestRunWindowSleepsUntilTodayStart(t *testing.T) {
	st, d, clk := setup(t)
	clk.now = time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC) // before window
	st.SeedList(1, "+15551111111")

	windowStart, windowEnd := "09:00", "17:00"
	campaign := store.Campaign{
		ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100,
		WindowStart: &windowStart, WindowEnd: &windowEnd,
	}
	require.NoError(t, d.Run(context.Background(), campaign))

	require.Len(t, clk.slept, 1)
	assert.Equal(t, 6*time.Hour, clk.slept[0])
}

func TestRunWindowSleepsUntilTomorrowWhenPastEnd(t *testing.T) {
	st, d, clk := setup(t)
	clk.now = time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC) // after window_end
	st.SeedList(1, "+15551111111")

	windowStart, windowEnd := "09:00", "17:00"
	campaign := store.Campaign{
		ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100,
		WindowStart: &windowStart, WindowEnd: &windowEnd,
	}
	require.NoError(t, d.Run(context.Background(), campaign))

	require.Len(t, clk.slept, 1)
	assert.Equal(t, 13*time.Hour, clk.slept[0])
}

func TestRunWindowNoSleepWhenInsideWindow(t *testing.T) {
	st, d, clk := setup(t)
	clk.now = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // inside window
	st.SeedList(1, "+15551111111")

	windowStart, windowEnd := "09:00", "17:00"
	campaign := store.Campaign{
		ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100,
		WindowStart: &windowStart, WindowEnd: &windowEnd,
	}
	require.NoError(t, d.Run(context.Background(), campaign))
	assert.Empty(t, clk.slept)
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	st := memstore.New()
	st.SeedDevice(1, "/dev/ttyUSB0", true)
	st.SeedList(1, "+15551111111", "+15552222222")
	clk := &fakeClock{now: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)}
	d := &Dispatcher{
		Store:   st,
		Senders: map[int64]Sender{1: &fakeSender{fail: true}},
		Clock:   clk,
		Log:     noopLogger(),
	}

	campaign := store.Campaign{ID: 1, Name: "promo", Template: "hi", ListID: 1, RateLimit: 100}
	require.NoError(t, d.Run(context.Background(), campaign))

	attempts := st.Attempts()
	require.Len(t, attempts, 2, "a failed send must not stop the run")
	for _, a := range attempts {
		assert.Equal(t, store.StatusFailed, a.Status)
		require.NotNil(t, a.ErrorCode)
	}
}
