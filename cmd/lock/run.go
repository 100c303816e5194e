package lock

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [key] -- [command] [args...]",
	Short: "Run a command while holding a lock",
	Long: `Acquire the lock, run the command and release the lock when the command
exits. The exit code of the command is passed on. Choose a ttl longer than
the command runs, an expired lock can be taken over by another owner.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runLocked,
}

// exitError carries the exit code of the locked command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

func runLocked(cmd *cobra.Command, args []string) error {
	key, command := args[0], args[1:]
	seconds := ttlSeconds(lockTTL)

	ok, owner, err := acquire(key, seconds, lockWait)
	if err != nil {
		return fmt.Errorf("acquire %q: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("lock %q is held by another owner", key)
	}

	start := time.Now()
	runErr := execute(command)
	if seconds > 0 && time.Since(start) > time.Duration(seconds)*time.Second {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: command outlived the ttl of lock %q\n", key)
	}

	released, err := locks.ReleaseLock(key, owner)
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("release %q: %w", key, err))
	}
	if !released {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: lock %q was taken over before release\n", key)
	}

	var exit *exitError
	if errors.As(runErr, &exit) {
		os.Exit(exit.code)
	}
	return runErr
}

// execute runs a command attached to the terminal
func execute(command []string) error {
	c := exec.Command(command[0], command[1:]...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr

	err := c.Run()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return &exitError{code: exit.ExitCode()}
	}
	return err
}
