package launcher

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

// Launcher opens provider pages in an external application, the system
// browser unless an opener is configured.
type Launcher struct {
	opener string
	args   []string
	start  func(*exec.Cmd) error
}

// New builds a launcher for opener, a command line such as "firefox
// --new-tab". Empty or missing commands fall back to the platform opener.
func New(opener string) *Launcher {
	l := &Launcher{start: startDetached}
	fields := strings.Fields(opener)
	if len(fields) > 0 && findCommand(fields[0]) != "" {
		l.opener, l.args = fields[0], fields[1:]
		return l
	}
	l.opener, l.args = defaultOpener()
	return l
}

// Opener returns the command Open runs.
func (l *Launcher) Opener() string { return l.opener }

// Open starts the opener on rawURL without waiting for it to exit. Only
// http and https URLs are accepted.
func (l *Launcher) Open(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open %q: not a web URL", rawURL)
	}
	if l.opener == "" {
		return fmt.Errorf("no application found to open URL")
	}

	args := append(append([]string{}, l.args...), u.String())
	cmd := exec.Command(l.opener, args...)
	if err := l.start(cmd); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.opener, err)
	}
	return nil
}

func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func defaultOpener() (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		if cmd := findCommand("xdg-open", "sensible-browser", "x-www-browser"); cmd != "" {
			return cmd, nil
		}
		return "xdg-open", nil
	}
}

func findCommand(commands ...string) string {
	for _, cmd := range commands {
		if _, err := exec.LookPath(cmd); err == nil {
			return cmd
		}
	}
	return ""
}
