package homepage

import (
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
)

// MapBookmarks turns a Homepage bookmarks config into website entries, in file order.
// The bookmark name becomes the title (abbr when the name is blank); entries without
// an http(s) href are skipped, and a URL listed twice keeps its first title.
func MapBookmarks(config BookmarksConfig) ([]domain.BookmarkEntry, error) {
	entries := make([]domain.BookmarkEntry, 0)
	seen := make(map[string]bool)

	for _, group := range config {
		for _, bookmarkList := range group {
			for _, bookmarkMap := range bookmarkList {
				for name, props := range bookmarkMap {
					// Each bookmark has a list with a single entry
					if len(props) == 0 {
						continue
					}
					p := props[0]

					href := strings.TrimSpace(p.Href)
					if !domain.IsWebURL(href) || seen[href] {
						continue
					}
					seen[href] = true

					title := strings.TrimSpace(name)
					if title == "" {
						title = strings.TrimSpace(p.Abbr)
					}
					entries = append(entries, domain.NewWebsiteEntry(href, title))
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid bookmarks found in config")
	}

	return entries, nil
}
