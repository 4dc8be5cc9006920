package relayset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relays.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}
	return path
}

func TestLoaderLoad(t *testing.T) {
	path := writeFile(t, `---
bootstrap:
  - wss://purplepag.es
  - wss://purplepag.es/
fallback:
  - wss://relay.damus.io
  - https://not-a-relay.example
public:
  - not a url
`)

	sets, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := []string{"wss://purplepag.es"}; !reflect.DeepEqual(sets.Bootstrap, want) {
		t.Errorf("Bootstrap = %v, want %v", sets.Bootstrap, want)
	}
	if want := []string{"wss://relay.damus.io"}; !reflect.DeepEqual(sets.Fallback, want) {
		t.Errorf("Fallback = %v, want %v", sets.Fallback, want)
	}
	if len(sets.Public) != 0 {
		t.Errorf("Public = %v, want empty", sets.Public)
	}
}

func TestLoaderExpandsEnv(t *testing.T) {
	t.Setenv("NOSTRMARKS_TEST_RELAY", "wss://private.relay.example")
	path := writeFile(t, `
fallback:
  - ${NOSTRMARKS_TEST_RELAY}
`)

	sets, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sets.Fallback) != 1 || sets.Fallback[0] != "wss://private.relay.example" {
		t.Errorf("Fallback = %v", sets.Fallback)
	}
}

func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "bootstrap: [wss://a.example\n"},
		{"nothing valid", "bootstrap:\n  - http://a.example\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(writeFile(t, tt.content)).Load(); err == nil {
				t.Error("Load() expected an error")
			}
		})
	}

	if _, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load(); err == nil {
		t.Error("Load() expected an error for a missing file")
	}
}

func TestMerge(t *testing.T) {
	def := Defaults()
	got := Sets{Fallback: []string{"wss://mine.example"}}.Merge(def)

	if !reflect.DeepEqual(got.Bootstrap, def.Bootstrap) {
		t.Errorf("Bootstrap = %v, want defaults", got.Bootstrap)
	}
	if !reflect.DeepEqual(got.Fallback, []string{"wss://mine.example"}) {
		t.Errorf("Fallback = %v, want the explicit set", got.Fallback)
	}
	if !reflect.DeepEqual(got.Public, def.Public) {
		t.Errorf("Public = %v, want defaults", got.Public)
	}
}
