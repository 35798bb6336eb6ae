package version

import "testing"

func TestInfoString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		info Info
		want string
	}{
		{Info{Version: "v1.2.0"}, "v1.2.0"},
		{Info{Version: "v1.2.0", Commit: "abc"}, "v1.2.0 (abc)"},
		{Info{Version: "v1", Commit: "0123456789abcdef"}, "v1 (0123456789ab)"},
	}
	for _, tc := range cases {
		if got := tc.info.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestResolveAlwaysHasVersion(t *testing.T) {
	t.Parallel()

	if Resolve().Version == "" {
		t.Fatal("Resolve returned an empty version")
	}
}
