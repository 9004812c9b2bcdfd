package kernel

import (
	"context"
	"slices"
	"strings"
	"time"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/protocol"
)

// handlerFunc serves one syscall for p. ctx is cancelled when the syscall
// is interrupted or p exits.
type handlerFunc func(ctx context.Context, p *process.Process, args map[string]any) (any, error)

type syscallDef struct {
	required []string
	optional []string
	handle   handlerFunc
}

// unknownSyscall labels metrics of calls to names outside the table.
const unknownSyscall = "unknown"

func (s *System) syscallTable() map[string]syscallDef {
	def := func(h handlerFunc, required []string, optional ...string) syscallDef {
		return syscallDef{required: required, optional: optional, handle: h}
	}
	none := []string(nil)

	return map[string]syscallDef{
		"openFile":               def(s.procOpenFile, []string{"path"}, "createIfNecessary", "mode"),
		"read":                   def(s.procRead, []string{"fd"}, "nonBlocking"),
		"write":                  def(s.procWrite, []string{"fd", "text"}),
		"close":                  def(s.procClose, []string{"fd"}),
		"duplicateFd":            def(s.procDuplicateFd, []string{"fd"}),
		"seekInFile":             def(s.procSeekInFile, []string{"fd", "position"}),
		"setFileLength":          def(s.procSetFileLength, []string{"fd", "length"}),
		"getFileStatus":          def(s.procGetFileStatus, none, "path", "fd"),
		"listDirectory":          def(s.procListDirectory, []string{"path"}),
		"createDirectory":        def(s.procCreateDirectory, []string{"path"}),
		"removeFile":             def(s.procRemoveFile, []string{"path"}),
		"changeWorkingDirectory": def(s.procChangeWorkingDirectory, []string{"path"}),
		"getWorkingDirectory":    def(s.procGetWorkingDirectory, none),
		"createPipe":             def(s.procCreatePipe, none),
		"controlDevice":          def(s.procControlDevice, []string{"fd", "request"}),
		"pollRead":               def(s.procPollRead, []string{"fds"}, "timeoutMillis"),
		"sleep":                  def(s.procSleep, []string{"millis"}),

		"spawn":                         def(s.procSpawn, []string{"programPath"}, "args", "fds", "pgid"),
		"waitForExit":                   def(s.procWaitForExit, []string{"pid"}, "nonBlocking"),
		"exit":                          def(s.procExit, []string{"exitValue"}),
		"sendSignal":                    def(s.procSendSignal, []string{"signal", "pid"}),
		"sendSignalToProcessGroup":      def(s.procSendSignalToProcessGroup, []string{"signal", "pgid"}),
		"ignoreInterruptSignal":         def(s.procIgnoreInterruptSignal, none),
		"handleInterruptSignal":         def(s.procHandleInterruptSignal, none),
		"joinNewSessionAndProcessGroup": def(s.procJoinNewSessionAndProcessGroup, none),
		"listProcesses":                 def(s.procListProcesses, none),
		"getProcessInfo":                def(s.procGetProcessInfo, none),

		"createPseudoTerminal":    def(s.procCreatePseudoTerminal, none),
		"openPseudoTerminalSlave": def(s.procOpenPseudoTerminalSlave, none),
		"configurePseudoTerminal": def(s.procConfigurePseudoTerminal, none,
			"mode", "resize", "setForegroundPgid", "getForegroundPgid", "getTerminalSize"),
		"graphics": def(s.procGraphics, []string{"title", "size", "resizable"}, "menubarItems"),

		"pledge": def(s.procPledge, []string{"promises"}),
		"unveil": def(s.procUnveil, none, "path", "permissions"),
	}
}

// Syscalls returns the names of all syscalls in sorted order.
func (s *System) Syscalls() []string {
	names := make([]string, 0, len(s.syscalls))
	for name := range s.syscalls {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d syscallDef) validate(args map[string]any) error {
	for _, name := range d.required {
		if _, ok := args[name]; !ok {
			return kerr.Wrap(kerr.ErrMissingArgument, name)
		}
	}
	for name := range args {
		if !slices.Contains(d.required, name) && !slices.Contains(d.optional, name) {
			return kerr.Wrap(kerr.ErrUnexpectedArg, name)
		}
	}
	return nil
}

// Call runs syscall name for pid. It is the only way a unit changes kernel
// state. The call is registered as pending on the process for its whole
// duration, so an interrupt or exit cancels ctx for the handler.
func (s *System) Call(ctx context.Context, name string, args map[string]any, pid int) (result any, err error) {
	start := time.Now()
	label := name
	defer func() {
		s.metrics.observeSyscall(label, err, time.Since(start))
	}()

	def, ok := s.syscalls[name]
	if !ok {
		label = unknownSyscall
		return nil, kerr.Wrap(kerr.ErrNoSuchSyscall, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := def.validate(args); err != nil {
		return nil, err
	}

	p, err := s.Process(pid)
	if err != nil {
		return nil, err
	}
	if p.Exited() {
		return nil, kerr.ErrProcessExited
	}
	if err := p.Sandbox().CheckSyscall(name); err != nil {
		return nil, err
	}

	ctx, done := p.BeginSyscall(ctx)
	defer done()

	result, err = def.handle(ctx, p, args)
	if err != nil && ctx.Err() != nil {
		// Report why the call was cut short rather than how the handler
		// noticed.
		if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
			err = cause
		}
	}
	return result, err
}

func intArg(args map[string]any, name string) (int, error) {
	n, ok := protocol.Int(args[name])
	if !ok {
		return 0, kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return n, nil
}

func optionalIntArg(args map[string]any, name string) (int, bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	n, ok := protocol.Int(v)
	if !ok {
		return 0, false, kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return n, true, nil
}

func intsArg(args map[string]any, name string) ([]int, error) {
	ns, ok := protocol.Ints(args[name])
	if !ok {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return ns, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	s, ok := protocol.String(args[name])
	if !ok {
		return "", kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, name, def string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := protocol.String(v)
	if !ok {
		return "", kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return s, nil
}

func stringsArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	ss, ok := protocol.Strings(v)
	if !ok {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return ss, nil
}

func boolArg(args map[string]any, name string, def bool) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := protocol.Bool(v)
	if !ok {
		return false, kerr.Wrap(kerr.ErrInvalidArgument, name)
	}
	return b, nil
}

// argNames renders argument names for log lines.
func argNames(args map[string]any) string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}
