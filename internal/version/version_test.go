package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldTime := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldTime }()

	Version, GitSHA, BuildTime = "1.2.0", "abc1234", "2025-03-01T12:00:00Z"
	if got, want := String(), "1.2.0 (abc1234, built 2025-03-01T12:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got.GitSHA != "abc1234" {
		t.Errorf("Get().GitSHA = %q", got.GitSHA)
	}
}
