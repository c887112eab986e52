package domain

import "strings"

// IdentifierForm distinguishes the identifier families the upstream protocol
// uses for the same real-world contact.
type IdentifierForm string

const (
	// FormPhone is the legacy phone-number-based form, preferred as the
	// externally visible representation.
	FormPhone IdentifierForm = "phone"
	// FormOpaque is the privacy-preserving form that hides the phone number.
	FormOpaque IdentifierForm = "opaque"
	// FormGroup addresses a group chat rather than an individual.
	FormGroup IdentifierForm = "group"
)

// Protocol address suffixes observed on the wire.
const (
	suffixPhone = "@s.whatsapp.net"
	suffixLid   = "@lid"
	suffixGroup = "@g.us"
)

// Identifier is a tagged participant or chat address. Two identifiers with
// different string values may refer to the same contact, so equality of
// values must never be used to conclude non-equivalence.
type Identifier struct {
	Form  IdentifierForm `json:"form"`
	Value string         `json:"value"`
}

// ParseIdentifier classifies a raw wire address by its suffix. Addresses
// without a recognized suffix are treated as opaque; callers that need
// stricter handling should check Form afterwards.
func ParseIdentifier(raw string) Identifier {
	switch {
	case strings.HasSuffix(raw, suffixPhone):
		return Identifier{Form: FormPhone, Value: raw}
	case strings.HasSuffix(raw, suffixGroup):
		return Identifier{Form: FormGroup, Value: raw}
	case strings.HasSuffix(raw, suffixLid):
		return Identifier{Form: FormOpaque, Value: raw}
	default:
		return Identifier{Form: FormOpaque, Value: raw}
	}
}

// IsZero reports whether the identifier is unset.
func (i Identifier) IsZero() bool {
	return i.Value == ""
}

// String returns the wire value.
func (i Identifier) String() string {
	return i.Value
}

// User returns the local part of the address, without the server suffix.
// This is an address fragment, not a display name; it must never be shown
// where a human-readable name is expected.
func (i Identifier) User() string {
	if at := strings.IndexByte(i.Value, '@'); at >= 0 {
		return i.Value[:at]
	}
	return i.Value
}

// Equal compares form and value. A false result does not imply the two
// identifiers belong to different contacts; resolve through the identity
// cache for that question.
func (i Identifier) Equal(other Identifier) bool {
	return i.Form == other.Form && i.Value == other.Value
}
