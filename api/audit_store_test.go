package api

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newTestAuditStore(t *testing.T) *auditStore {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "audit.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newAuditStore(db)
}

func TestAuditStoreAppendAndList(t *testing.T) {
	store := newTestAuditStore(t)

	for i := 0; i < 5; i++ {
		err := store.append(auditEntry{
			ID:        fmt.Sprintf("id-%d", i),
			Event:     AuditAdminLoginFailure,
			Subject:   "root",
			RemoteIP:  "203.0.113.7",
			CreatedAt: fmt.Sprintf("2026-01-0%dT00:00:00Z", i+1),
		})
		require.NoError(t, err)
	}

	entries, total, err := store.list(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, entries, 5)
	assert.Equal(t, "id-4", entries[0].ID, "newest entry comes first")
	assert.Equal(t, "id-0", entries[4].ID)
}

func TestAuditStorePagination(t *testing.T) {
	store := newTestAuditStore(t)

	for i := 0; i < 7; i++ {
		require.NoError(t, store.append(auditEntry{
			ID:        fmt.Sprintf("id-%d", i),
			Event:     AuditWorkspaceSwitched,
			CreatedAt: "2026-02-01T00:00:00Z",
		}))
	}

	page, total, err := store.list(3, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page, 3)
	assert.Equal(t, "id-6", page[0].ID)

	page, _, err = store.list(3, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "id-3", page[0].ID)

	page, _, err = store.list(3, 6)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "id-0", page[0].ID)

	page, _, err = store.list(3, 100)
	require.NoError(t, err)
	assert.Empty(t, page, "offset beyond the end yields an empty page")
}

func TestAuditStoreEmptyDatabase(t *testing.T) {
	store := newTestAuditStore(t)

	entries, total, err := store.list(10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
}

func TestAuditStoreAttrsRoundTrip(t *testing.T) {
	store := newTestAuditStore(t)

	require.NoError(t, store.append(auditEntry{
		ID:        "id-1",
		Event:     AuditWorkspaceSwitched,
		Subject:   "user-1",
		CreatedAt: "2026-03-01T00:00:00Z",
		Attrs:     map[string]string{"workspace_id": "ws-9"},
	}))

	entries, _, err := store.list(1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ws-9", entries[0].Attrs["workspace_id"])
}
