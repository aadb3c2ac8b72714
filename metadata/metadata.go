// Package metadata defines small named records owned by a server or by the
// cluster, such as the diagnostic snapshot a server leaves behind when it
// stops on a fatal error.
package metadata

import (
	"context"
	"time"

	"github.com/xraph/shepherd"
)

// OwnerCluster owns records that belong to no single server.
const OwnerCluster = "cluster"

// Metadata is a key/value record scoped by owner.
type Metadata struct {
	shepherd.Entity

	Name  string `json:"name"`
	Owner string `json:"owner"`
	Value string `json:"value"`
}

// New returns a record stamped with the current time.
func New(name, owner, value string) *Metadata {
	return &Metadata{Entity: shepherd.NewEntity(), Name: name, Owner: owner, Value: value}
}

// Clone returns a copy of the record.
func (m *Metadata) Clone() *Metadata {
	c := *m
	return &c
}

// Store defines the persistence contract for metadata.
type Store interface {
	// SaveMetadata inserts or replaces the record identified by name and
	// owner. UpdatedAt is set to the current time.
	SaveMetadata(ctx context.Context, m *Metadata) error

	// GetMetadata returns one record or shepherd.ErrMetadataNotFound.
	GetMetadata(ctx context.Context, name, owner string) (*Metadata, error)

	// ListMetadata returns every record with the given name.
	ListMetadata(ctx context.Context, name string) ([]*Metadata, error)

	// DeleteMetadata removes every record with the given name and returns
	// the number removed.
	DeleteMetadata(ctx context.Context, name string) (int, error)
}

// Touch stamps m as updated at now, initializing CreatedAt on first save.
func Touch(m *Metadata, now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}
