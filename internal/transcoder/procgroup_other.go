//go:build !unix

package transcoder

import (
	"os/exec"
	"time"
)

func setProcessGroup(*exec.Cmd) {}

func killGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	_ = killGroup(cmd)
	return <-waitCh
}
