package console

import (
	"fmt"

	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

// ThreadLines describes every thread. The running thread is marked with '*'.
func ThreadLines(k *task.Kernel) []string {
	out := []string{"  TID   PID STATE    EVENTS        SCHED   SYSCALLS"}
	k.Interrupt(func() {
		cur := k.Threads().Running()
		k.Threads().Each(func(t *task.Thread) {
			mark := ' '
			if t == cur {
				mark = '*'
			}
			pid := "-"
			if t.Pid() != task.KernelPid {
				pid = fmt.Sprint(t.Pid())
			}
			out = append(out, fmt.Sprintf("%c%4d %5s %-8s %-12s %6d %10d",
				mark, t.Tid(), pid, t.State(), t.Events(), t.Stats.SchedCount, t.Stats.Syscalls))
		})
	})
	return out
}

// ProcLines describes every process.
func ProcLines(k *task.Kernel) []string {
	out := []string{"  PID PARENT THREADS  OWN FLAGS     COMMAND"}
	k.Interrupt(func() {
		k.Procs().Each(func(p *task.Proc) {
			parent := "-"
			if p.Parent() != task.InvalidPid {
				parent = fmt.Sprint(p.Parent())
			}
			own, _, _ := p.MemUsage()
			out = append(out, fmt.Sprintf("%5d %6s %7d %4d %-9s %s",
				p.Pid(), parent, len(p.Threads()), own, p.Flags(), p.Command()))
		})
	})
	return out
}

// DriverLines describes every registered driver.
func DriverLines(fs *vfs.VFS) []string {
	out := []string{" NODE NAME         OWNER CLIENTS FLAGS"}
	for _, d := range fs.Drivers() {
		readable := ""
		if d.Readable {
			readable = " readable"
		}
		out = append(out, fmt.Sprintf("%5d %-12s %5d %7d %#04x%s", d.No, d.Name, d.Owner, d.Clients, uint32(d.Flags), readable))
	}
	return out
}

// Summary is a one-line state of the scheduler and the timer.
func Summary(k *task.Kernel) string {
	var s string
	k.Interrupt(func() {
		s = fmt.Sprintf("up %dms ticks=%d ready=%d reschedules=%d threads=%d procs=%d",
			k.Timer().Elapsed(), k.Timer().Ticks(), k.Sched().ReadyCount(), k.Reschedules(),
			k.Threads().Count(), k.Procs().Count())
	})
	return s
}

// Dump writes the summary and the thread, process and driver tables.
func (c *Console) Dump(k *task.Kernel, fs *vfs.VFS) {
	c.WriteLineString(Summary(k))
	for _, l := range ThreadLines(k) {
		c.WriteLineString(l)
	}
	for _, l := range ProcLines(k) {
		c.WriteLineString(l)
	}
	if fs != nil {
		for _, l := range DriverLines(fs) {
			c.WriteLineString(l)
		}
	}
}
