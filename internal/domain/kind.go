package domain

import (
	"fmt"
	"strings"
)

// EventKind is a canonical event name on the outbound webhook contract.
// Invariant: exactly one canonical string exists per kind, defined here and
// nowhere else. Renaming a kind is a breaking change for subscribers and must
// go through a versioned migration, never a silent fix.
type EventKind string

// The closed set of canonical kinds. Dot-separated, lower-case, singular or
// plural exactly as published; no other component may define its own literal
// for any of these.
const (
	KindApplicationStartup      EventKind = "application.startup"
	KindQRCodeUpdated           EventKind = "qrcode.updated"
	KindConnectionUpdate        EventKind = "connection.update"
	KindMessagesUpsert          EventKind = "messages.upsert"
	KindMessagesUpdate          EventKind = "messages.update"
	KindMessagesDelete          EventKind = "messages.delete"
	KindSendMessage             EventKind = "send.message"
	KindContactsUpsert          EventKind = "contacts.upsert"
	KindContactsUpdate          EventKind = "contacts.update"
	KindPresenceUpdate          EventKind = "presence.update"
	KindChatsUpsert             EventKind = "chats.upsert"
	KindChatsUpdate             EventKind = "chats.update"
	KindChatsDelete             EventKind = "chats.delete"
	KindGroupsUpsert            EventKind = "groups.upsert"
	KindGroupsUpdate            EventKind = "groups.update"
	KindGroupParticipantsUpdate EventKind = "group.participants.update"
	KindCall                    EventKind = "call"
	KindLabelsEdit              EventKind = "labels.edit"
)

// knownKinds is the single source of truth consulted by every validation
// path. Keep it in lockstep with the constants above.
var knownKinds = map[EventKind]bool{
	KindApplicationStartup:      true,
	KindQRCodeUpdated:           true,
	KindConnectionUpdate:        true,
	KindMessagesUpsert:          true,
	KindMessagesUpdate:          true,
	KindMessagesDelete:          true,
	KindSendMessage:             true,
	KindContactsUpsert:          true,
	KindContactsUpdate:          true,
	KindPresenceUpdate:          true,
	KindChatsUpsert:             true,
	KindChatsUpdate:             true,
	KindChatsDelete:             true,
	KindGroupsUpsert:            true,
	KindGroupsUpdate:            true,
	KindGroupParticipantsUpdate: true,
	KindCall:                    true,
	KindLabelsEdit:              true,
}

// IsValid reports whether the kind is in the closed canonical set.
func (k EventKind) IsValid() bool {
	return knownKinds[k]
}

func (k EventKind) String() string {
	return string(k)
}

// ParseEventKind constructs an EventKind from external input. Matching is
// exact: no case folding, no singular/plural aliasing. Historically a
// singular-vs-plural drift between layers caused events to silently miss
// their subscribers, so near-misses are reported with the canonical spelling
// to make misconfiguration obvious.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if k.IsValid() {
		return k, nil
	}
	if canonical, ok := nearestKind(s); ok {
		return "", NewConfigurationError("event kind", fmt.Sprintf("unknown kind %q; did you mean %q", s, canonical))
	}
	return "", NewConfigurationError("event kind", fmt.Sprintf("unknown kind %q", s))
}

// ValidateKinds checks a subscription's enabled kinds at load time. It
// rejects unknown names and duplicates so drift never survives past startup.
func ValidateKinds(raw []string) ([]EventKind, error) {
	seen := make(map[EventKind]bool, len(raw))
	kinds := make([]EventKind, 0, len(raw))
	for _, s := range raw {
		k, err := ParseEventKind(s)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, NewConfigurationError("event kind", fmt.Sprintf("duplicate kind %q", s))
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// nearestKind finds a canonical kind that differs from s only in case, which
// covers the common misspellings seen in subscriber configs.
func nearestKind(s string) (EventKind, bool) {
	lower := strings.ToLower(s)
	for k := range knownKinds {
		if strings.ToLower(string(k)) == lower {
			return k, true
		}
	}
	return "", false
}
