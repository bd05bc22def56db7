package translator

import "testing"

func TestAspectRatio(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size string
		want string
	}{
		{"1024x1024", "1:1"},
		{"1792x1024", "16:9"},
		{"1024x1792", "9:16"},
		{"300x200", "3:2"},   // unlisted: reduced integer ratio
		{"1000x500", "2:1"},  // unlisted: reduced integer ratio
		{"", "1:1"},          // unspecified
		{"banana", "1:1"},    // unparseable
		{"0x100", "1:1"},     // degenerate
		{"1024X1024", "1:1"}, // case-insensitive separator
	}
	for _, tc := range cases {
		if got := AspectRatio(tc.size); got != tc.want {
			t.Fatalf("AspectRatio(%q) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
