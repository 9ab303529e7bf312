package platform

import "testing"

func TestLockComponent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		want     string
	}{
		{name: "keeps alnum and separators", raw: "veeposync-v1.2_3", fallback: "cache", want: "veeposync-v1.2_3"},
		{name: "flattens path separators", raw: `C:\Users\ana\cache`, fallback: "cache", want: "C__Users_ana_cache"},
		{name: "trims separator edges", raw: "/home/ana/.cache/", fallback: "cache", want: "home_ana_.cache"},
		{name: "empty uses fallback", raw: "   ", fallback: "cache", want: "cache"},
		{name: "all unsupported uses fallback", raw: "[]{}", fallback: "sid", want: "sid"},
	}

	for _, tc := range tests {
		if got := lockComponent(tc.raw, tc.fallback); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
