package homepage

import (
	"os"
	"path/filepath"
	"testing"
)

const bookmarksYAML = `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
    - Gitea:
        - abbr: GT
          href: {{HOMEPAGE_VAR_GITEA_URL}}
- Social:
    - Reddit:
        - icon: reddit.png
          href: https://reddit.com/
    - Github again:
        - href: https://github.com/
    - Files:
        - href: ftp://files.example.com
`

func writeBookmarks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookmarks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}
	return path
}

func TestLoadAndMapBookmarks(t *testing.T) {
	config, err := NewLoader(writeBookmarks(t, bookmarksYAML)).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	entries, err := MapBookmarks(config)
	if err != nil {
		t.Fatalf("MapBookmarks() error = %v", err)
	}

	tests := []struct {
		id    string
		title string
	}{
		{"https://github.com/", "Github"},
		{"https://reddit.com/", "Reddit"},
	}

	if len(entries) != len(tests) {
		t.Fatalf("MapBookmarks() returned %d entries, want %d: %+v", len(entries), len(tests), entries)
	}
	for i, tt := range tests {
		if entries[i].ID != tt.id || entries[i].Title != tt.title {
			t.Errorf("entries[%d] = {%s %s}, want {%s %s}", i, entries[i].ID, entries[i].Title, tt.id, tt.title)
		}
	}
}

func TestMapBookmarksEmpty(t *testing.T) {
	if _, err := MapBookmarks(BookmarksConfig{}); err == nil {
		t.Error("MapBookmarks() expected an error for an empty config")
	}
}

func TestStripTemplateVariables(t *testing.T) {
	got := string(stripTemplateVariables([]byte(`href: {{HOMEPAGE_VAR_URL}}`)))
	if got != `href: ""` {
		t.Errorf("stripTemplateVariables() = %q", got)
	}
}
