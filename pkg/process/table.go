package process

import (
	"errors"
	"maps"
	"slices"
)

// Table errors.
var (
	ErrPIDInUse   = errors.New("PID already in use")
	ErrInvalidPID = errors.New("invalid PID")
)

// Table holds all processes by pid. It is not safe for concurrent use; the
// kernel guards it with its own lock.
type Table struct {
	// processes holds all processes, zombies included, by PID.
	processes map[int]*Process
	// lastPID is the most recently allocated PID.
	lastPID int
}

// NewTable creates an empty table. The first allocated pid is 1.
func NewTable() *Table {
	return &Table{processes: make(map[int]*Process)}
}

// AllocatePID allocates a new unique PID. Pids are never reused.
func (t *Table) AllocatePID() int {
	t.lastPID++
	return t.lastPID
}

// Add stores p.
func (t *Table) Add(p *Process) error {
	if p.PID() <= 0 {
		return ErrInvalidPID
	}
	if _, ok := t.processes[p.PID()]; ok {
		return ErrPIDInUse
	}
	t.processes[p.PID()] = p
	return nil
}

// Get retrieves a process by PID.
func (t *Table) Get(pid int) (*Process, bool) {
	p, ok := t.processes[pid]
	return p, ok
}

// Remove drops pid from the table.
func (t *Table) Remove(pid int) {
	delete(t.processes, pid)
}

// Len returns the number of processes, zombies included.
func (t *Table) Len() int {
	return len(t.processes)
}

// All returns every process ordered by pid.
func (t *Table) All() []*Process {
	out := make([]*Process, 0, len(t.processes))
	for _, pid := range slices.Sorted(maps.Keys(t.processes)) {
		out = append(out, t.processes[pid])
	}
	return out
}

// Group returns the members of process group pgid that have not exited.
func (t *Table) Group(pgid int) []*Process {
	return t.filter(func(p *Process) bool { return p.PGID() == pgid && !p.Exited() })
}

// Session returns the members of session sid that have not exited.
func (t *Table) Session(sid int) []*Process {
	return t.filter(func(p *Process) bool { return p.SID() == sid && !p.Exited() })
}

// Zombies returns the processes waiting to be collected.
func (t *Table) Zombies() []*Process {
	return t.filter(func(p *Process) bool { return p.IsZombie() })
}

func (t *Table) filter(keep func(*Process) bool) []*Process {
	var out []*Process
	for _, p := range t.All() {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
