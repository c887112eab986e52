package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/internal/domain"
)

const validDoc = `{
	"senders": {"inst1": "5511888888888@s.whatsapp.net"},
	"subscriptions": [
		{
			"id": "sub1",
			"instance": "inst1",
			"url": "https://hooks.example.com/wa",
			"secret": "s3cret",
			"events": ["messages.upsert", "connection.update"]
		},
		{
			"id": "sub2",
			"url": "https://other.example.com/wa",
			"ignore_groups": true,
			"events": ["messages.upsert"]
		}
	]
}`

func TestParseSnapshot_Valid(t *testing.T) {
	snapshot, err := ParseSnapshot([]byte(validDoc))
	require.NoError(t, err)

	require.Len(t, snapshot.Subscriptions, 2)
	assert.Equal(t, "5511888888888@s.whatsapp.net", snapshot.Senders["inst1"])

	sub := snapshot.Subscriptions[0]
	assert.Equal(t, "sub1", sub.ID)
	assert.True(t, sub.EnabledKinds[domain.KindMessagesUpsert])
	assert.True(t, sub.EnabledKinds[domain.KindConnectionUpdate])
	assert.False(t, sub.EnabledKinds[domain.KindCall])
}

func TestParseSnapshot_RejectsUnknownKind(t *testing.T) {
	doc := `{"subscriptions": [{"id": "s", "url": "https://x.example.com", "events": ["messages.received"]}]}`
	_, err := ParseSnapshot([]byte(doc))
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestParseSnapshot_RejectsMisspelledKind(t *testing.T) {
	// Singular-vs-plural drift is rejected at load, never matched loosely.
	doc := `{"subscriptions": [{"id": "s", "url": "https://x.example.com", "events": ["message.upsert"]}]}`
	_, err := ParseSnapshot([]byte(doc))
	require.Error(t, err)
}

func TestParseSnapshot_RejectsDuplicateKinds(t *testing.T) {
	doc := `{"subscriptions": [{"id": "s", "url": "https://x.example.com", "events": ["call", "call"]}]}`
	_, err := ParseSnapshot([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseSnapshot_RejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing subscriptions", `{}`},
		{"missing url", `{"subscriptions": [{"id": "s", "events": ["call"]}]}`},
		{"non-http url", `{"subscriptions": [{"id": "s", "url": "ftp://x", "events": ["call"]}]}`},
		{"empty events", `{"subscriptions": [{"id": "s", "url": "https://x.example.com", "events": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestParseSnapshot_RejectsDuplicateSubscriptionIDs(t *testing.T) {
	doc := `{"subscriptions": [
		{"id": "s", "url": "https://a.example.com", "events": ["call"]},
		{"id": "s", "url": "https://b.example.com", "events": ["call"]}
	]}`
	_, err := ParseSnapshot([]byte(doc))
	require.Error(t, err)
}

func TestSubscriptionWants(t *testing.T) {
	sub := Subscription{
		Instance:     "inst1",
		EnabledKinds: map[domain.EventKind]bool{domain.KindMessagesUpsert: true},
	}

	event := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"), nil)
	assert.True(t, sub.Wants(event))

	otherInstance := event
	otherInstance.Instance = "inst2"
	assert.False(t, sub.Wants(otherInstance))

	otherKind := event
	otherKind.Kind = domain.KindMessagesUpdate
	assert.False(t, sub.Wants(otherKind))
}

func TestSubscriptionWants_IgnoreGroups(t *testing.T) {
	sub := Subscription{
		IgnoreGroups: true,
		EnabledKinds: map[domain.EventKind]bool{domain.KindMessagesUpsert: true},
	}

	direct := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"), nil)
	group := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("120363041234567890@g.us"), nil)

	assert.True(t, sub.Wants(direct))
	assert.False(t, sub.Wants(group))
}

func TestSubscriptionStore_LoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0o600))

	store, err := NewSubscriptionStore(path)
	require.NoError(t, err)
	assert.Len(t, store.Current().Subscriptions, 2)

	// A bad rewrite keeps the previous snapshot.
	require.NoError(t, os.WriteFile(path, []byte(`{"subscriptions": [`), 0o600))
	require.Error(t, store.reload())
	assert.Len(t, store.Current().Subscriptions, 2)

	// A good rewrite replaces it.
	good := `{"subscriptions": [{"id": "only", "url": "https://x.example.com", "events": ["call"]}]}`
	require.NoError(t, os.WriteFile(path, []byte(good), 0o600))
	require.NoError(t, store.reload())
	assert.Len(t, store.Current().Subscriptions, 1)
}

func TestSubscriptionStore_WatchSurvivesAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subscriptions.json")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0o600))

	store, err := NewSubscriptionStore(path)
	require.NoError(t, err)
	stop, err := store.Watch()
	require.NoError(t, err)
	defer func() { _ = stop() }()

	// Write-then-rename, the way editors and configmap updates save.
	replace := func(doc string) {
		tmp := filepath.Join(dir, "subscriptions.json.tmp")
		require.NoError(t, os.WriteFile(tmp, []byte(doc), 0o600))
		require.NoError(t, os.Rename(tmp, path))
	}

	replace(`{"subscriptions": [{"id": "only", "url": "https://x.example.com", "events": ["call"]}]}`)
	require.Eventually(t, func() bool {
		return len(store.Current().Subscriptions) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// The watch stays alive across renames; a second save still reloads.
	replace(validDoc)
	require.Eventually(t, func() bool {
		return len(store.Current().Subscriptions) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSubscriptionStore_MissingFileIsFatal(t *testing.T) {
	_, err := NewSubscriptionStore(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
