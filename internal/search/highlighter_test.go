package search

import "testing"

func TestSnippet(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a  b\n\tc", 10, "a b c"},
		{"hello world", 5, "hello..."},
		{"日本語のテキスト", 3, "日本語..."},
		{"unchanged", 0, "unchanged"},
	}
	for _, tt := range tests {
		if got := Snippet(tt.in, tt.max); got != tt.want {
			t.Errorf("Snippet(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
