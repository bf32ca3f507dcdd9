//go:build !windows

package action

import (
	"os/exec"
	"syscall"
	"time"
)

// termGracePeriod is how long a cancelled process group gets to exit after
// SIGTERM before the escalation to SIGKILL.
const termGracePeriod = 3 * time.Second

// setProcGroup configures cmd to run in its own process group and sets up
// Cancel/WaitDelay so that context cancellation terminates the entire group
// (including child processes like sleep, curl, etc.) rather than only the
// direct child.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Signal the entire process group (negative PID): SIGTERM first so
		// handlers can clean up, SIGKILL once the grace period runs out.
		pgid := -cmd.Process.Pid
		err := syscall.Kill(pgid, syscall.SIGTERM)
		time.AfterFunc(termGracePeriod, func() {
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		})
		return err
	}

	// Keep Wait from blocking on pipe file descriptors held by grandchildren
	// that outlive the grace period.
	cmd.WaitDelay = termGracePeriod + time.Second
}
