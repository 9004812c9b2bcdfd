package kernel

import (
	"context"
	"fmt"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/protocol"

	"github.com/puzpuzpuz/xsync/v4"
)

// unitHost is the kernel side of a unit's boundary. Each request is served
// on its own goroutine and answered exactly once.
type unitHost struct {
	s        *System
	p        *process.Process
	inFlight *xsync.Map[int, string]
}

func newUnitHost(s *System, p *process.Process) *unitHost {
	return &unitHost{s: s, p: p, inFlight: xsync.NewMap[int, string]()}
}

// Syscall implements process.Host.
func (h *unitHost) Syscall(req protocol.SyscallRequest) {
	_, dup := h.inFlight.LoadOrCompute(req.SequenceNum, func() (string, bool) {
		return req.Syscall, false
	})
	if dup {
		h.s.log.Error().Int("pid", h.p.PID()).Int("seq", req.SequenceNum).
			Str("syscall", req.Syscall).Msg("duplicate syscall sequence number dropped")
		return
	}

	go func() {
		value, err := h.call(req)
		if err == nil {
			value, err = protocol.Normalize(value)
		}
		h.s.log.Trace().Int("pid", h.p.PID()).Str("syscall", req.Syscall).
			Str("args", argNames(req.Arg)).Err(err).Msg("syscall")
		h.deliver(protocol.SyscallResult{SequenceNum: req.SequenceNum, Success: value, Err: err})
	}()
}

// call runs one syscall. A panic fails only that syscall.
func (h *unitHost) call(req protocol.SyscallRequest) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.s.log.Error().Int("pid", h.p.PID()).Str("syscall", req.Syscall).
				Interface("panic", rec).Msg("syscall panicked")
			value, err = nil, kerr.Wrap(kerr.ErrKernelFault, fmt.Sprintf("%s: %v", req.Syscall, rec))
		}
	}()
	return h.s.Call(context.Background(), req.Syscall, req.Arg, h.p.PID())
}

func (h *unitHost) deliver(res protocol.SyscallResult) {
	if _, ok := h.inFlight.LoadAndDelete(res.SequenceNum); !ok {
		h.s.log.Error().Err(kerr.ErrAlreadyDelivered).Int("pid", h.p.PID()).
			Int("seq", res.SequenceNum).Msg("syscall result dropped")
		return
	}
	h.p.Deliver(res)
}

// Finished implements process.Host. The unit's program returned value.
func (h *unitHost) Finished(value any) {
	h.s.exitProcess(h.p, value, "finished")
}
