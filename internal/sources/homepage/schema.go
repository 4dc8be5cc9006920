package homepage

// BookmarkProps represents a single bookmark entry in the YAML
type BookmarkProps struct {
	Icon        string `yaml:"icon,omitempty"`
	Abbr        string `yaml:"abbr,omitempty"`
	Href        string `yaml:"href"`
	Description string `yaml:"description,omitempty"`
}

// BookmarkGroup represents a group with its bookmarks
// The YAML structure is: - GroupName: [ - BookmarkName: [{ icon, abbr, href }] ]
// Each bookmark name maps to a list with a single entry containing the properties
type BookmarkGroup map[string][]map[string][]BookmarkProps

// BookmarksConfig is the root structure of Homepage's bookmarks.yaml
type BookmarksConfig []BookmarkGroup
