package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

func newTestSessionStore(t *testing.T) (*EncryptedSessionStore, string, []byte) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := newSessionKey()
	require.NoError(t, err)

	store, err := NewEncryptedSessionStore(dataDir, key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dataDir, key
}

func TestEncryptedSessionStore_BeginEndRecent(t *testing.T) {
	store, _, _ := newTestSessionStore(t)

	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	id1, err := store.Begin(domain.WorkerSession{
		PID: 100, HWND: 0x10, ProcessName: "YuanShen.exe",
		ClientType: domain.ClientYuanShen, CaptureType: domain.CaptureBitBlt,
		Port: 40000, StartedAt: started,
	})
	require.NoError(t, err)
	id2, err := store.Begin(domain.WorkerSession{PID: 101, ProcessName: "GenshinImpact.exe"})
	require.NoError(t, err)
	require.NoError(t, store.End(id1, 1, "exited"))

	sessions, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, id2, sessions[0].ID)
	assert.True(t, sessions[0].EndedAt.IsZero())

	first := sessions[1]
	assert.Equal(t, id1, first.ID)
	assert.Equal(t, 100, first.PID)
	assert.Equal(t, int64(0x10), first.HWND)
	assert.Equal(t, domain.ClientYuanShen, first.ClientType)
	assert.Equal(t, domain.CaptureBitBlt, first.CaptureType)
	assert.Equal(t, 40000, first.Port)
	assert.True(t, started.Equal(first.StartedAt))
	assert.False(t, first.EndedAt.IsZero())
	assert.Equal(t, 1, first.ExitCode)
	assert.Equal(t, "exited", first.Reason)
}

func TestEncryptedSessionStore_EndUnknown(t *testing.T) {
	store, _, _ := newTestSessionStore(t)
	assert.Error(t, store.End(999, 0, "exited"))
}

func TestEncryptedSessionStore_RecentLimit(t *testing.T) {
	store, _, _ := newTestSessionStore(t)
	for i := 0; i < 5; i++ {
		_, err := store.Begin(domain.WorkerSession{PID: i + 1, ProcessName: "p"})
		require.NoError(t, err)
	}
	sessions, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
	assert.Equal(t, 5, sessions[0].PID)
}

func TestEncryptedSessionStore_Reopen(t *testing.T) {
	store, dataDir, key := newTestSessionStore(t)
	_, err := store.Begin(domain.WorkerSession{PID: 42, ProcessName: "p"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewEncryptedSessionStore(dataDir, key)
	require.NoError(t, err)
	defer reopened.Close()

	sessions, err := reopened.Recent(1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 42, sessions[0].PID)
}

func TestEncryptedSessionStore_WrongKey(t *testing.T) {
	store, dataDir, _ := newTestSessionStore(t)
	_, err := store.Begin(domain.WorkerSession{PID: 1, ProcessName: "p"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	wrong, err := newSessionKey()
	require.NoError(t, err)
	_, err = NewEncryptedSessionStore(dataDir, wrong)
	assert.Error(t, err)
}
