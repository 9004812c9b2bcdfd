package security

import (
	"fmt"
	"strings"

	"webkernel/pkg/kerr"
)

// Promise is a set of syscall classes a process may use, named after
// OpenBSD's pledge promises. Promises combine with bitwise OR.
type Promise uint64

const (
	// PromiseStdio covers descriptor io, pipes, polling, sleeping and
	// process self-inspection.
	PromiseStdio Promise = 1 << iota
	// PromiseRpath allows reading and listing paths.
	PromiseRpath
	// PromiseWpath allows opening paths for writing.
	PromiseWpath
	// PromiseCpath allows creating and removing paths.
	PromiseCpath
	// PromiseProc allows waiting, signals and process groups.
	PromiseProc
	// PromiseExec allows spawning programs.
	PromiseExec
	// PromiseTty allows pseudoterminal syscalls.
	PromiseTty
	// PromiseVideo allows opening windows.
	PromiseVideo
)

// AllPromises is what a process holds before its first pledge.
const AllPromises = PromiseStdio | PromiseRpath | PromiseWpath | PromiseCpath |
	PromiseProc | PromiseExec | PromiseTty | PromiseVideo

var promiseNames = []struct {
	promise Promise
	name    string
}{
	{PromiseStdio, "stdio"},
	{PromiseRpath, "rpath"},
	{PromiseWpath, "wpath"},
	{PromiseCpath, "cpath"},
	{PromiseProc, "proc"},
	{PromiseExec, "exec"},
	{PromiseTty, "tty"},
	{PromiseVideo, "video"},
}

// Has reports whether p includes every promise of q.
func (p Promise) Has(q Promise) bool {
	return p&q == q
}

// String lists the promise names separated by spaces, the form pledge
// accepts.
func (p Promise) String() string {
	names := make([]string, 0, len(promiseNames))
	for _, n := range promiseNames {
		if p.Has(n.promise) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, " ")
}

// ParsePromises reads space separated promise names. The empty string is
// the empty set.
func ParsePromises(s string) (Promise, error) {
	var p Promise
	for _, word := range strings.Fields(s) {
		found := false
		for _, n := range promiseNames {
			if n.name == word {
				p |= n.promise
				found = true
				break
			}
		}
		if !found {
			return 0, kerr.Wrap(kerr.ErrInvalidArgument, fmt.Sprintf("unknown promise %q", word))
		}
	}
	return p, nil
}

// syscallPromises maps each syscall to what it needs. Syscalls missing
// here are always allowed. Path syscalls are checked again per path.
var syscallPromises = map[string]Promise{
	"read":                   PromiseStdio,
	"write":                  PromiseStdio,
	"close":                  PromiseStdio,
	"duplicateFd":            PromiseStdio,
	"seekInFile":             PromiseStdio,
	"setFileLength":          PromiseStdio,
	"getFileStatus":          PromiseStdio,
	"getWorkingDirectory":    PromiseStdio,
	"createPipe":             PromiseStdio,
	"controlDevice":          PromiseStdio,
	"pollRead":               PromiseStdio,
	"sleep":                  PromiseStdio,
	"getProcessInfo":         PromiseStdio,
	"ignoreInterruptSignal":  PromiseStdio,
	"handleInterruptSignal":  PromiseStdio,
	"listDirectory":          PromiseRpath,
	"changeWorkingDirectory": PromiseRpath,
	"createDirectory":        PromiseCpath,
	"removeFile":             PromiseCpath,

	"spawn":                         PromiseProc | PromiseExec,
	"waitForExit":                   PromiseProc,
	"sendSignal":                    PromiseProc,
	"sendSignalToProcessGroup":      PromiseProc,
	"joinNewSessionAndProcessGroup": PromiseProc,
	"listProcesses":                 PromiseProc,

	"createPseudoTerminal":    PromiseTty,
	"openPseudoTerminalSlave": PromiseTty,
	"configurePseudoTerminal": PromiseTty,
	"graphics":                PromiseVideo,
}

// Required returns the promises syscall name needs.
func Required(name string) Promise {
	return syscallPromises[name]
}

// accessPromises maps unveil permission letters to the promise the same
// access needs.
var accessPromises = map[rune]Promise{
	'r': PromiseRpath,
	'w': PromiseWpath,
	'c': PromiseCpath,
	'x': PromiseExec,
}
