package kernel

import (
	"context"
	"time"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/vfs"
)

// procSleep suspends for millis, checking for cancellation at the
// configured granularity.
func (s *System) procSleep(ctx context.Context, _ *process.Process, args map[string]any) (any, error) {
	millis, err := intArg(args, "millis")
	if err != nil {
		return nil, err
	}
	if millis < 0 {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "negative millis")
	}

	deadline := time.Now().Add(time.Duration(millis) * time.Millisecond)
	ticker := time.NewTicker(s.cfg.SleepGranularity())
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-ticker.C:
		}
	}
	return nil, nil
}

// procPollRead returns the first of fds that can be read without blocking,
// or nil when timeoutMillis passes first.
func (s *System) procPollRead(ctx context.Context, p *process.Process, args map[string]any) (any, error) {
	fds, err := intsArg(args, "fds")
	if err != nil {
		return nil, err
	}
	if len(fds) == 0 {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "no fds to poll")
	}
	timeout, hasTimeout, err := optionalIntArg(args, "timeoutMillis")
	if err != nil {
		return nil, err
	}

	descriptors := make([]*vfs.FileDescriptor, len(fds))
	for i, n := range fds {
		if descriptors[i], err = p.FD(n); err != nil {
			return nil, err
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type ready struct {
		fd  int
		err error
	}
	results := make(chan ready, len(fds))
	for i, fd := range descriptors {
		go func() {
			results <- ready{fd: fds[i], err: fd.PollRead(pollCtx, p)}
		}()
	}

	var expired <-chan time.Time
	if hasTimeout {
		timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-results:
		if r.err != nil {
			return nil, r.err
		}
		return r.fd, nil
	case <-expired:
		return nil, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
