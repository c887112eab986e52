package dispatch

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"wabridge/internal/domain"
)

// subscriptionSchema constrains the shape of the subscription document
// before any field is interpreted. Event kind strings are validated
// separately against the canonical set; the schema only enforces structure.
const subscriptionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["subscriptions"],
	"properties": {
		"senders": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"subscriptions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "url", "events"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"instance": {"type": "string"},
					"url": {"type": "string", "pattern": "^https?://"},
					"secret": {"type": "string"},
					"ignore_groups": {"type": "boolean"},
					"events": {
						"type": "array",
						"items": {"type": "string"},
						"minItems": 1
					}
				}
			}
		}
	}
}`

const schemaURL = "wabridge://subscriptions.schema.json"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(subscriptionSchema))
	if err != nil {
		panic(fmt.Sprintf("subscription schema is not valid JSON: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("subscription schema resource: %v", err))
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("subscription schema compile: %v", err))
	}
	return schema
}

// ParseSnapshot validates and loads a subscription document. Unknown or
// duplicate-but-differently-spelled kind names are rejected here, once,
// rather than accepted silently and matched against nothing at dispatch
// time.
func ParseSnapshot(raw []byte) (Snapshot, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Snapshot{}, domain.NewConfigurationError("subscriptions", fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Snapshot{}, domain.NewConfigurationError("subscriptions", fmt.Sprintf("schema violation: %v", err))
	}

	root := doc.(map[string]any)
	snapshot := Snapshot{Senders: map[string]string{}}

	if senders, ok := root["senders"].(map[string]any); ok {
		for instance, sender := range senders {
			snapshot.Senders[instance], _ = sender.(string)
		}
	}

	seen := map[string]bool{}
	for _, item := range root["subscriptions"].([]any) {
		entry := item.(map[string]any)
		id := entry["id"].(string)
		if seen[id] {
			return Snapshot{}, domain.NewConfigurationError("subscriptions", fmt.Sprintf("duplicate subscription id %q", id))
		}
		seen[id] = true

		var rawKinds []string
		for _, k := range entry["events"].([]any) {
			rawKinds = append(rawKinds, k.(string))
		}
		kinds, err := domain.ValidateKinds(rawKinds)
		if err != nil {
			return Snapshot{}, fmt.Errorf("subscription %q: %w", id, err)
		}
		enabled := make(map[domain.EventKind]bool, len(kinds))
		for _, k := range kinds {
			enabled[k] = true
		}

		sub := Subscription{
			ID:           id,
			RecipientURL: entry["url"].(string),
			EnabledKinds: enabled,
		}
		sub.Instance, _ = entry["instance"].(string)
		sub.Secret, _ = entry["secret"].(string)
		sub.IgnoreGroups, _ = entry["ignore_groups"].(bool)
		snapshot.Subscriptions = append(snapshot.Subscriptions, sub)
	}
	return snapshot, nil
}

// SubscriptionStore holds the current snapshot and swaps it atomically on
// reload. Readers always see a complete snapshot, never a half-applied one.
type SubscriptionStore struct {
	path     string
	logger   *slog.Logger
	snapshot atomic.Pointer[Snapshot]
}

// StoreOption configures a SubscriptionStore.
type StoreOption func(*SubscriptionStore)

func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *SubscriptionStore) { s.logger = logger }
}

// NewSubscriptionStore loads the document at path. A load failure here is a
// ConfigurationError and fatal: starting with no subscriptions hides every
// later delivery.
func NewSubscriptionStore(path string, opts ...StoreOption) (*SubscriptionStore, error) {
	s := &SubscriptionStore{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active snapshot.
func (s *SubscriptionStore) Current() Snapshot {
	return *s.snapshot.Load()
}

func (s *SubscriptionStore) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return domain.NewConfigurationError("subscriptions", fmt.Sprintf("read %s: %v", s.path, err))
	}
	snapshot, err := ParseSnapshot(raw)
	if err != nil {
		return err
	}
	s.snapshot.Store(&snapshot)
	s.logger.Info("subscription snapshot loaded",
		"path", s.path, "subscriptions", len(snapshot.Subscriptions))
	return nil
}

// Watch hot-reloads the document on filesystem changes until the watcher is
// closed via the returned stop function. A bad reload keeps the previous
// snapshot; only startup is strict.
//
// The watch is on the parent directory, not the file: editors and configmap
// mounts save via rename, which replaces the inode a file watch would be
// pinned to and silently ends hot-reload.
func (s *SubscriptionStore) Watch() (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create subscription watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Error("subscription reload failed, keeping previous snapshot", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("subscription watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
