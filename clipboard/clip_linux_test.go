package clipboard

import (
	"errors"
	"testing"
)

func TestNoDisplay(t *testing.T) {
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")
	if err := WriteString("123456"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("WriteString: got %v, want %v", err, ErrUnavailable)
	}
}

func TestNoHelper(t *testing.T) {
	t.Setenv("DISPLAY", ":0")
	t.Setenv("WAYLAND_DISPLAY", "")
	t.Setenv("PATH", t.TempDir())
	if _, err := helper(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("helper: got %v, want %v", err, ErrUnavailable)
	}
}
