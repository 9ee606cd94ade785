package clipboard

import (
	"fmt"
	"os"
)

// helper selects a clipboard program for the current display server. A
// Wayland session is preferred when both are set.
func helper() ([]string, error) {
	switch {
	case os.Getenv("WAYLAND_DISPLAY") != "":
		return firstInPath([]string{"wl-copy"}, []string{"xsel", "--clipboard", "--input"})
	case os.Getenv("DISPLAY") != "":
		return firstInPath([]string{"xsel", "--clipboard", "--input"}, []string{"xclip", "-selection", "clipboard"})
	}
	return nil, fmt.Errorf("%w (no DISPLAY or WAYLAND_DISPLAY)", ErrUnavailable)
}
