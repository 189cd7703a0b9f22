package ticket

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedTicket(t *testing.T, store *SQLiteStore, id, contactID, status string) {
	t.Helper()

	_, err := store.db.Exec(
		`INSERT INTO tickets (id, contact_id, status, updated_at) VALUES (?, ?, ?, ?)`,
		id, contactID, status, time.Now().UTC())
	require.NoError(t, err)
}

func TestSQLiteStore_Get(t *testing.T) {
	store := newTestStore(t)
	seedTicket(t, store, "42", "contact_9", "open")

	ticket, err := store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", ticket.ID)
	assert.Equal(t, "contact_9", ticket.ContactID)
	assert.Equal(t, "open", ticket.Status)
	assert.False(t, ticket.UpdatedAt.IsZero())
}

func TestSQLiteStore_GetUnknownTicket(t *testing.T) {
	store := newTestStore(t)

	ticket, err := store.Get(context.Background(), "404")
	assert.Nil(t, ticket)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestSQLiteStore_Exists(t *testing.T) {
	store := newTestStore(t)
	seedTicket(t, store, "42", "contact_9", "open")

	exists, err := store.Exists(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(context.Background(), "404")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteStore_PendingCount(t *testing.T) {
	store := newTestStore(t)

	count, err := store.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	seedTicket(t, store, "1", "contact_1", "pending")
	seedTicket(t, store, "2", "contact_2", "pending")
	seedTicket(t, store, "3", "contact_3", "open")

	count, err = store.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteStore_SchemaBootstrapIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	seedTicket(t, first, "42", "contact_9", "open")
	require.NoError(t, first.Close())

	// Reopening against an existing database must keep the data.
	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	exists, err := second.Exists(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, exists)
}
