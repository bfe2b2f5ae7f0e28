// Package e2e provides command execution utilities for E2E tests.
package e2e

import (
	"os/exec"
	"strings"
)

// RunCommand runs a command and returns its combined output.
//
// Parameters:
//   - name: command name
//   - args: command arguments
//
// Returns:
//   - string: command output
//   - error: execution error if any
func RunCommand(name string, args ...string) (string, error) {
	output, err := exec.Command(name, args...).CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// CommandExists checks if a command exists in PATH.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
