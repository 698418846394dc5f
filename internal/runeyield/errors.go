package runeyield

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable reports that chain or indexer state needed for a
// report could not be fetched. Reports are never returned partially.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamError carries the failed operation and, when known, the pool and
// height it was about.
type UpstreamError struct {
	Op     string
	Pool   string
	Height int64
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Pool != "" && e.Height > 0:
		return fmt.Sprintf("%s %s at %d: %v", e.Op, e.Pool, e.Height, e.Err)
	case e.Pool != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Pool, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func upstream(op, pool string, height int64, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Pool: pool, Height: height, Err: err}
}
