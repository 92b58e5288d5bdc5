// Package directory defines the user-directory collaborator behind the tool
// surface: the record model, the Store interface the gateway programs
// against, and an in-memory reference implementation. Production deployments
// supply their own Store; the gateway treats directory internals as an
// external system.
package directory

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrNotFound is returned when no record exists for the given ID.
	ErrNotFound = errors.New("directory record not found")

	// ErrConflict is returned when a create collides with an existing
	// username or email.
	ErrConflict = errors.New("directory record conflicts with an existing one")
)

// Record is a single directory entry.
type Record struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the directory CRUD boundary.
type Store interface {
	// Search returns records whose username, email, or full name contains
	// the query (case-insensitive). An empty query returns all records.
	Search(ctx context.Context, query string) ([]*Record, error)

	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Create stores a new record. The ID and timestamps are assigned by
	// the store; a username or email collision returns ErrConflict.
	Create(ctx context.Context, rec *Record) (*Record, error)

	// Update replaces the mutable fields (username, email, full name,
	// active) of the record identified by rec.ID. Returns the updated
	// record, or ErrNotFound. Callers read-modify-write.
	Update(ctx context.Context, rec *Record) (*Record, error)

	// Delete removes the record with the given ID, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
