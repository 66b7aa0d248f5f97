//go:build !windows

package tui

import (
	"os"
	"os/exec"
)

// bestEffortResetTTY restores a sane terminal mode after bubbletea exits.
// bubbletea usually does this itself, but a hard ctx cancellation can race
// the cleanup; this is a harmless no-op when stdin isn't a terminal.
func bestEffortResetTTY() {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return
	}
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		return
	}
	_ = exec.Command("sh", "-lc", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
