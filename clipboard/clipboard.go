// Package clipboard copies text to the system clipboard by piping it to a
// platform helper program.
package clipboard

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable is reported when no clipboard helper can be used.
var ErrUnavailable = errors.New("clipboard is not available")

// WriteString attempts to copy s to the system clipboard.
func WriteString(s string) error {
	argv, err := helper()
	if err != nil {
		return err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(s)
	if out, err := cmd.CombinedOutput(); err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

// firstInPath returns the first of the candidate command lines whose program
// is found in $PATH.
func firstInPath(cands ...[]string) ([]string, error) {
	for _, c := range cands {
		if _, err := exec.LookPath(c[0]); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w (no helper found in $PATH)", ErrUnavailable)
}
