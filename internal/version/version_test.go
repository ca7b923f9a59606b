package version

import "testing"

func TestFormatVersion(t *testing.T) {
	got := FormatVersion("dev", "none", "unknown")
	if got != "dev (development build)" {
		t.Errorf("FormatVersion dev = %q", got)
	}

	got = FormatVersion("v1.2.0", "abc1234", "2026-08-28")
	want := "v1.2.0 (commit: abc1234, built: 2026-08-28)"
	if got != want {
		t.Errorf("FormatVersion = %q, want %q", got, want)
	}
}

func TestGetVersionMatchesComponents(t *testing.T) {
	v, c, d := GetVersionComponents()
	if got, want := GetVersion(), FormatVersion(v, c, d); got != want {
		t.Errorf("GetVersion = %q, want %q", got, want)
	}
}
