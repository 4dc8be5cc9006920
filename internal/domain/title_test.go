package domain

import "testing"

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root path", "https://www.example.com/", "example.com"},
		{"no path", "https://example.com", "example.com"},
		{"kebab segment", "https://example.com/blog/my-first-post", "example.com - My First Post"},
		{"snake segment", "https://docs.example.com/api_reference", "docs.example.com - Api Reference"},
		{"trailing slash", "https://www.example.com/guides/", "example.com - Guides"},
		{"escaped segment", "https://example.com/a%20b-c", "example.com - A B C"},
		{"port dropped", "http://localhost:8080/x", "localhost - X"},
		{"not a url", "::nope", "::nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.in); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
