package controlplane

import (
	"fmt"
	"math"
)

const (
	minPort = 1
	maxPort = 65535
)

// portArg reads a port number from a decoded argument. Transports decode
// numbers differently, so any integral numeric type is accepted.
func portArg(v any) (int, error) {
	var n float64
	switch val := v.(type) {
	case int32:
		n = float64(val)
	case int64:
		n = float64(val)
	case int:
		n = float64(val)
	case float32:
		n = float64(val)
	case float64:
		n = val
	default:
		return 0, fmt.Errorf("%w: port must be a number, got %T", ErrMalformed, v)
	}

	if math.Trunc(n) != n {
		return 0, fmt.Errorf("%w: port %v is not an integer", ErrMalformed, v)
	}
	if n < minPort || n > maxPort {
		return 0, fmt.Errorf("%w: port %v out of range", ErrMalformed, v)
	}
	return int(n), nil
}

func stringArg(v any, name string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrMalformed, name, v)
	}
	return s, nil
}
