package frame

import (
	"github.com/cockroachdb/errors"
)

// Error categories. Backends attach them with errors.Mark so they survive
// wrapping; check them with errors.Is.
var (
	// ErrOutOfDate means the swapchain no longer matches its surface and must
	// be rebuilt. It is the only condition the orchestrator recovers from.
	ErrOutOfDate = errors.New("swapchain out of date")

	// ErrSuboptimal means the swapchain still works but no longer matches the
	// surface exactly.
	ErrSuboptimal = errors.New("swapchain suboptimal")

	// ErrZeroExtent means the surface currently has no drawable area.
	ErrZeroExtent = errors.New("surface has zero extent")

	// ErrFatal marks every error DrawFrame returns. The frame loop should
	// stop when it sees one.
	ErrFatal = errors.New("fatal frame error")

	ErrClosed = errors.New("orchestrator closed")
)

// Fatal wraps err with a message and marks it ErrFatal.
func Fatal(err error, format string, args ...interface{}) error {
	if err == nil {
		err = errors.Newf(format, args...)
	} else {
		err = errors.Wrapf(err, format, args...)
	}
	return errors.Mark(err, ErrFatal)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func IsOutOfDate(err error) bool {
	return errors.Is(err, ErrOutOfDate)
}

func isSuboptimal(err error) bool {
	return errors.Is(err, ErrSuboptimal)
}
