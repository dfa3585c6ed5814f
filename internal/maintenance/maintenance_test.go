package maintenance

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skunkworks-Digital/muxo/internal/store"
	"github.com/Skunkworks-Digital/muxo/internal/store/memstore"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOncePurgesOldAttemptsAndInbox(t *testing.T) {
	st := memstore.New()
	contact, err := st.UpsertContactByMSISDN(context.Background(), "+15551234567")
	require.NoError(t, err)
	_, err = st.RecordAttempt(context.Background(), store.Attempt{ContactID: contact.ID, DeviceID: 1, Text: "hi", Status: store.StatusSent})
	require.NoError(t, err)
	require.NoError(t, st.AppendInbox(context.Background(), store.InboundRecord{MSISDN: "+15551234567", Text: "hey", DeviceID: 1}))

	r := New(st, "", "", noopLogger())
	fixedNow := time.Now().UTC().Add(400 * 24 * time.Hour) // far enough ahead that both records are stale
	r.now = func() time.Time { return fixedNow }

	require.NoError(t, r.RunOnce(context.Background()))

	assert.Empty(t, st.Attempts())
	assert.Empty(t, st.Inbox())
}

func TestRunOnceKeepsRecentRecords(t *testing.T) {
	st := memstore.New()
	contact, err := st.UpsertContactByMSISDN(context.Background(), "+15551234567")
	require.NoError(t, err)
	_, err = st.RecordAttempt(context.Background(), store.Attempt{ContactID: contact.ID, DeviceID: 1, Text: "hi", Status: store.StatusSent})
	require.NoError(t, err)

	r := New(st, "", "", noopLogger())
	require.NoError(t, r.RunOnce(context.Background()))

	assert.Len(t, st.Attempts(), 1, "a just-created attempt must survive a purge pass")
}

func TestRunOnceBacksUpDBFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gateway.sqlite")
	require.NoError(t, os.WriteFile(dbPath, []byte("fake db contents"), 0o600))

	backupDir := filepath.Join(dir, "backups")
	r := New(memstore.New(), dbPath, backupDir, noopLogger())
	fixedNow := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixedNow }

	require.NoError(t, r.RunOnce(context.Background()))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "muxo-20260731030000.db", entries[0].Name())
}
