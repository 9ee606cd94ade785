//go:build !darwin && !linux

package clipboard

func helper() ([]string, error) { return nil, ErrUnavailable }
