package launcher

import (
	"errors"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(l *Launcher) *[]string {
	var got []string
	l.start = func(cmd *exec.Cmd) error {
		got = append(got, cmd.Args...)
		return nil
	}
	return &got
}

func TestOpenRunsConfiguredOpener(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go not on PATH")
	}
	l := New("go --new-tab")
	got := capture(l)

	require.NoError(t, l.Open(" https://mangadex.org/title/abc "))
	assert.Equal(t, []string{"go", "--new-tab", "https://mangadex.org/title/abc"}, *got)
}

func TestOpenRejectsNonWebURLs(t *testing.T) {
	l := New("")
	got := capture(l)

	tests := []string{
		"",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"mangadex.org/title/abc",
		"https://",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			assert.Error(t, l.Open(raw))
		})
	}
	assert.Empty(t, *got)
}

func TestOpenReportsStartFailure(t *testing.T) {
	l := New("")
	l.start = func(*exec.Cmd) error { return errors.New("boom") }

	err := l.Open("https://example.com/series/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMissingOpenerFallsBack(t *testing.T) {
	l := New("definitely-not-a-real-browser-binary")

	expected := map[string]string{
		"darwin":  "open",
		"windows": "rundll32",
	}
	if want, ok := expected[runtime.GOOS]; ok {
		assert.Equal(t, want, l.Opener())
	}
	assert.NotEmpty(t, l.Opener())
}
