// Package ev implements the EV battery-logger child process lifecycle and
// the energy-model sensor packet the proxy synthesizes from a reported
// battery level, grounded on original_source/src/ev.rs.
package ev

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const terminateGracePeriod = 2 * time.Second

// ChildProcess holds the optional external battery-logger command the
// operator can configure (spec.md §4.6 / §5's child-process lifecycle
// note): started once, on the EV sensor request, and stopped on session
// teardown. done is closed exactly once, by the single goroutine that
// calls cmd.Wait — os/exec permits only one Wait per process.
type ChildProcess struct {
	cmd    *exec.Cmd
	logger *logrus.Logger
	done   chan struct{}
}

// Start launches cmdline via the shell (the configured battery-logger
// command is a free-form string) and logs its exit in the background so
// a crash doesn't block the caller.
func Start(logger *logrus.Logger, cmdline string) (*ChildProcess, error) {
	if cmdline == "" {
		return nil, fmt.Errorf("ev: no battery logger command configured")
	}

	cmd := exec.Command("/bin/sh", "-c", cmdline)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ev: starting battery logger: %w", err)
	}

	cp := &ChildProcess{cmd: cmd, logger: logger, done: make(chan struct{})}
	go func() {
		defer close(cp.done)
		if err := cmd.Wait(); err != nil {
			logger.WithError(err).Warn("ev: battery logger process exited")
		} else {
			logger.Info("ev: battery logger process exited cleanly")
		}
	}()

	logger.WithField("pid", cmd.Process.Pid).Info("ev: battery logger started")
	return cp, nil
}

// Stop sends SIGTERM, waits up to a 2s grace period, then SIGKILLs the
// process if it hasn't exited — the lifecycle spec.md §5 names.
func (c *ChildProcess) Stop() error {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("ev: sending SIGTERM: %w", err)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(terminateGracePeriod):
		if err := c.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("ev: sending SIGKILL: %w", err)
		}
		<-c.done
		return nil
	}
}
