package domain

// IdentityRecord is the durable mapping from every identifier form a contact
// has been seen under to one canonical identifier.
//
// Invariants: AlternateIDs never contains CanonicalID; an alternate belongs
// to at most one record at a time (last writer wins for contested
// alternates). AlternateIDs only grows, except through explicit rebinding.
type IdentityRecord struct {
	CanonicalID  Identifier
	AlternateIDs []Identifier
	DisplayName  string
}

// HasAlternate reports whether id is already bound to this record.
func (r IdentityRecord) HasAlternate(id Identifier) bool {
	for _, alt := range r.AlternateIDs {
		if alt.Equal(id) {
			return true
		}
	}
	return false
}

// WithAlternate returns a copy with id added, preserving the invariant that
// the canonical identifier never appears among its own alternates. The merge
// is idempotent so concurrent writers observing the same pair converge.
func (r IdentityRecord) WithAlternate(id Identifier) IdentityRecord {
	if id.IsZero() || id.Equal(r.CanonicalID) || r.HasAlternate(id) {
		return r
	}
	out := r
	out.AlternateIDs = append(append([]Identifier(nil), r.AlternateIDs...), id)
	return out
}
