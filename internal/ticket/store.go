// Package ticket provides read access to ticket records for the
// realtime core. Ticket CRUD itself lives in the web application; the
// gateway only needs existence checks and queue counts, so the store
// surface stays deliberately narrow.
package ticket

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Ticket is the slice of a support ticket the realtime core cares
// about.
type Ticket struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the lookup interface consumed by the gateway and by cache
// read-through loaders.
type Store interface {
	Get(ctx context.Context, ticketID string) (*Ticket, error)
	Exists(ctx context.Context, ticketID string) (bool, error)
	PendingCount(ctx context.Context) (int, error)
	Close() error
}

// SQLiteStore implements Store over the application's SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
`

// NewSQLiteStore opens the database and bootstraps the schema when it
// is absent. WAL mode and a busy timeout keep concurrent readers from
// tripping over the web application's writes.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ticket database")
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to bootstrap ticket schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the ticket or ErrTicketNotFound.
func (s *SQLiteStore) Get(ctx context.Context, ticketID string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, status, updated_at FROM tickets WHERE id = ?`, ticketID)

	var t Ticket
	if err := row.Scan(&t.ID, &t.ContactID, &t.Status, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTicketNotFound
		}
		return nil, errors.Wrapf(err, "failed to load ticket %s", ticketID)
	}
	return &t, nil
}

// Exists reports whether a ticket id refers to a real conversation.
func (s *SQLiteStore) Exists(ctx context.Context, ticketID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tickets WHERE id = ?`, ticketID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to check ticket %s", ticketID)
	}
	return true, nil
}

// PendingCount returns the size of the unassigned queue, feeding the
// ticket:pending alert.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pending tickets")
	}
	return count, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
