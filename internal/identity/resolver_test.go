package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabridge/internal/domain"
)

func newTestResolver(t *testing.T) (*Resolver, *MemoryCache) {
	t.Helper()
	cache := NewMemoryCache()
	resolver, err := NewResolver(cache)
	require.NoError(t, err)
	return resolver, cache
}

func TestResolver_RequiresCache(t *testing.T) {
	_, err := NewResolver(nil)
	require.Error(t, err)
}

func TestResolver_AlternateAlongsideOpaque(t *testing.T) {
	resolver, cache := newTestResolver(t)
	ctx := context.Background()

	event := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"),
		map[string]any{
			"remoteJid":    "123@lid",
			"remoteJidAlt": "5511999999999@s.whatsapp.net",
			"pushName":     "Alice",
		})

	out := resolver.Resolve(ctx, event)

	// The alternate becomes the externally visible identifier.
	assert.Equal(t, "5511999999999@s.whatsapp.net", out.Payload["remoteJid"])
	assert.False(t, out.ResolutionIncomplete)

	// The pairing is cached for later events lacking the alternate.
	rec, err := cache.Resolve(ctx, domain.ParseIdentifier("123@lid"))
	require.NoError(t, err)
	assert.Equal(t, "5511999999999@s.whatsapp.net", rec.CanonicalID.Value)
	assert.Equal(t, "Alice", rec.DisplayName)
}

func TestResolver_OpaqueAloneResolvesFromCache(t *testing.T) {
	resolver, cache := newTestResolver(t)
	ctx := context.Background()

	_, err := cache.Upsert(ctx,
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"),
		domain.ParseIdentifier("123@lid"), "")
	require.NoError(t, err)

	event := domain.NewNormalizedEvent(domain.KindContactsUpdate, "inst1",
		domain.ParseIdentifier("123@lid"),
		map[string]any{"remoteJid": "123@lid"})

	out := resolver.Resolve(ctx, event)

	assert.Equal(t, "5511999999999@s.whatsapp.net", out.Payload["remoteJid"])
	assert.Equal(t, "5511999999999@s.whatsapp.net", out.SubjectID.Value)
	assert.False(t, out.ResolutionIncomplete)
}

func TestResolver_StableAcrossReplays(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()

	build := func() domain.NormalizedEvent {
		return domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
			domain.ParseIdentifier("5511999999999@s.whatsapp.net"),
			map[string]any{
				"remoteJid":    "123@lid",
				"remoteJidAlt": "5511999999999@s.whatsapp.net",
			})
	}

	first := resolver.Resolve(ctx, build())
	second := resolver.Resolve(ctx, build())

	// No oscillation between canonical forms for the same pair.
	assert.Equal(t, first.Payload["remoteJid"], second.Payload["remoteJid"])
	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.SubjectID, second.SubjectID)
}

func TestResolver_UnknownOpaqueFlagsIncomplete(t *testing.T) {
	resolver, _ := newTestResolver(t)

	event := domain.NewNormalizedEvent(domain.KindPresenceUpdate, "inst1",
		domain.ParseIdentifier("999@lid"),
		map[string]any{"remoteJid": "999@lid"})

	out := resolver.Resolve(context.Background(), event)

	// Left untouched and flagged, never dropped.
	assert.Equal(t, "999@lid", out.Payload["remoteJid"])
	assert.True(t, out.ResolutionIncomplete)
}

func TestResolver_NoIdentifiersAtAll(t *testing.T) {
	resolver, _ := newTestResolver(t)

	event := domain.NewNormalizedEvent(domain.KindApplicationStartup, "inst1",
		domain.Identifier{}, map[string]any{"status": "up"})

	out := resolver.Resolve(context.Background(), event)
	assert.True(t, out.ResolutionIncomplete)
}

func TestResolver_NeverInventsNameFromIdentifier(t *testing.T) {
	resolver, _ := newTestResolver(t)

	event := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"),
		map[string]any{
			"remoteJid":    "123@lid",
			"remoteJidAlt": "5511999999999@s.whatsapp.net",
		})

	out := resolver.Resolve(context.Background(), event)

	// No display name anywhere upstream: the field stays absent. The
	// numeric fragment of the identifier must never leak into it.
	name, present := out.Payload["pushName"]
	assert.False(t, present, "unexpected pushName %v", name)
}

func TestResolver_BackfillsCachedName(t *testing.T) {
	resolver, cache := newTestResolver(t)
	ctx := context.Background()

	_, err := cache.Upsert(ctx,
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"),
		domain.ParseIdentifier("123@lid"), "Alice")
	require.NoError(t, err)

	event := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("123@lid"),
		map[string]any{"sender": "123@lid", "pushName": ""})

	out := resolver.Resolve(ctx, event)
	assert.Equal(t, "Alice", out.Payload["pushName"])
}

func TestResolver_WalksNestedDocuments(t *testing.T) {
	resolver, cache := newTestResolver(t)
	ctx := context.Background()

	_, err := cache.Upsert(ctx,
		domain.ParseIdentifier("5511999999999@s.whatsapp.net"),
		domain.ParseIdentifier("123@lid"), "")
	require.NoError(t, err)

	event := domain.NewNormalizedEvent(domain.KindMessagesUpsert, "inst1",
		domain.ParseIdentifier("120363041234567890@g.us"),
		map[string]any{
			"key": map[string]any{"remoteJid": "123@lid", "fromMe": false},
			"receipts": []any{
				map[string]any{"participant": "123@lid"},
			},
		})

	out := resolver.Resolve(ctx, event)

	key := out.Payload["key"].(map[string]any)
	assert.Equal(t, "5511999999999@s.whatsapp.net", key["remoteJid"])
	receipt := out.Payload["receipts"].([]any)[0].(map[string]any)
	assert.Equal(t, "5511999999999@s.whatsapp.net", receipt["participant"])
}
