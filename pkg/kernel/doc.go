// Package kernel implements the System: the process table, the file system
// and its devices, the pseudoterminal registry and the syscall dispatcher.
//
// # Boot
//
// A System is created with New and populated with programs before Boot
// spawns the init program as pid 1 with fds 0 and 1 on /dev/con:
//
//	s := kernel.New(cfg.Kernel, kernel.WithLauncher(mux), kernel.WithConsole(os.Stdout, in))
//	s.InstallProgram("/sys/init", initCode)
//	if _, err := s.Boot(); err != nil {
//		return err
//	}
//	exitValue, err := s.Wait(ctx)
//
// # Syscalls
//
// Units reach the kernel only through Call. Every syscall has a fixed set of
// required and optional arguments; unknown names, missing arguments and
// unexpected arguments are rejected before the handler runs. A call is
// registered as pending on its process while it runs: a handled interrupt
// rejects it with kerr.ErrInterrupted and an exit rejects it with
// kerr.ErrProcessExited.
//
// # Lifecycle
//
// Spawn resolves the program file, asks the launcher for a unit, registers
// the process in its group and session, installs its fds and starts the
// unit. A process ends by the exit syscall, by its program returning or by
// a lethal signal. Its fds are closed, its children pass to init and it
// stays a zombie until its parent collects it with waitForExit.
package kernel
