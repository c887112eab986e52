package identity

import (
	"context"
	"errors"

	"wabridge/internal/domain"
)

// ErrNotFound keeps identity lookups consistent across the memory, redis and
// postgres implementations.
var ErrNotFound = errors.New("identity record not found")

// Cache maps every identifier form a contact has been seen under to one
// canonical record. Implementations must make mutations visible to Resolve
// calls issued after Upsert returns; there is no asynchronous propagation
// inside a single process.
type Cache interface {
	// Resolve finds the record owning id, checking both canonical
	// identifiers and alternates. Returns ErrNotFound when no record
	// claims the identifier.
	Resolve(ctx context.Context, id domain.Identifier) (domain.IdentityRecord, error)

	// Upsert creates or updates the record for canonical, optionally
	// binding an observed alternate and display name. An alternate already
	// bound to a different record is rebound here: the most recently
	// observed authoritative mapping wins.
	Upsert(ctx context.Context, canonical, alternate domain.Identifier, name string) (domain.IdentityRecord, error)
}
