/*
Package process provides the kernel-side handle of a logical process.

A Process carries the identity (pid, parent, process group and session),
the fd table, the exit value and the interrupt behavior of one program
running in an execution unit. The kernel owns every Process through a
Table; units never see a Process directly and reach the kernel only
through the Host handed to Unit.Start.

# Lifecycle

Processes move through three states:

  - Running: the unit is executing and may issue syscalls
  - Exiting: OnExit has closed the fds and stopped the unit
  - Zombie: children have been handed to init and the exit value waits to
    be collected by the parent

# Syscalls

Every syscall a process issues is registered as pending for its duration:

	ctx, done := p.BeginSyscall(ctx)
	defer done()
	text, err := p.Read(ctx, 0, false)

A process that handles the interrupt signal has all pending syscalls
cancelled with kerr.ErrInterrupted; blocking operations observe this as
context.Cause of their context. OnExit cancels them with
kerr.ErrProcessExited.

The start and end of every syscall is also recorded in a bounded history
from which UserlandActivity estimates how busy the program is outside the
kernel.
*/
package process
