package process

import (
	"strconv"

	"webkernel/pkg/kerr"
)

// DefaultMaxFiles is the fd table size of a process without explicit limits.
const DefaultMaxFiles = 256

// ErrLimitExceeded is returned when a process would exceed its fd limit.
var ErrLimitExceeded = kerr.New("too many open files")

// Limits defines per-process resource limits.
type Limits struct {
	// MaxFiles is the number of fds a process may hold at once.
	MaxFiles int
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxFiles: DefaultMaxFiles}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultMaxFiles
	}
	return l
}

// checkFiles reports whether an fd table holding open fds may grow by one.
func (l Limits) checkFiles(open int) error {
	if open >= l.MaxFiles {
		return kerr.Wrap(ErrLimitExceeded, "limit "+strconv.Itoa(l.MaxFiles))
	}
	return nil
}
