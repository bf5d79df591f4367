package task

import "nanokern/kernel/errno"

// Context provides thread-local access to kernel operations. Each goroutine
// backing a thread owns exactly one Context.
type Context struct {
	k *Kernel
	t *Thread
}

// Tid returns the calling thread id.
func (c *Context) Tid() Tid { return c.t.tid }

// Pid returns the calling process id.
func (c *Context) Pid() Pid { return c.t.pid }

// Kernel returns the kernel the thread belongs to.
func (c *Context) Kernel() *Kernel { return c.k }

// Thread returns the calling thread.
func (c *Context) Thread() *Thread { return c.t }

// Enter enters the kernel: it takes the kernel lock and waits until the
// calling thread is the running thread. If the thread was destroyed meanwhile
// the goroutine exits instead.
func (c *Context) Enter() {
	k := c.k
	k.mu.Lock()
	k.waitRunning(c.t)

	t := c.t
	now := k.cycles.Now()
	if t.Stats.ucycleStart != 0 && now > t.Stats.ucycleStart {
		t.Stats.UCycles += now - t.Stats.ucycleStart
	}
	t.Stats.kcycleStart = now
	t.Stats.Syscalls++
	t.entered = true
}

// Leave returns to user code. Leaving after the thread was destroyed is a
// no-op, which keeps deferred calls safe while the goroutine unwinds.
func (c *Context) Leave() {
	t := c.t
	if !t.entered {
		return
	}
	t.entered = false
	now := c.k.cycles.Now()
	if now > t.Stats.kcycleStart {
		t.Stats.KCycles += now - t.Stats.kcycleStart
	}
	t.Stats.ucycleStart = now
	c.k.mu.Unlock()
}

// Proc returns the calling process. The caller must have entered the kernel.
func (c *Context) Proc() *Proc { return c.proc() }

func (c *Context) proc() *Proc {
	p := c.k.procs.ByPid(c.t.pid)
	if p == nil {
		Panic("thread %d has no process", c.t.tid)
	}
	return p
}

// Wait blocks the calling thread until one of mask is signalled for obj. A
// pending signal ends the wait with ErrInterrupted. The caller must have
// entered the kernel.
func (c *Context) Wait(mask EventMask, obj any) error {
	c.k.events.Wait(c.t, mask, obj)
	c.k.switchAway(c.t)
	if c.k.sigs.HasSignalFor(c.t) {
		return errno.ErrInterrupted
	}
	return nil
}

// Wakeup wakes the threads waiting for one of mask on obj. The caller must
// have entered the kernel.
func (c *Context) Wakeup(mask EventMask, obj any) int {
	return c.k.events.Wakeup(mask, obj)
}

// WakeFS wakes the threads named by w. The caller must have entered the
// kernel.
func (c *Context) WakeFS(w FSWake) { c.k.events.WakeFS(w) }

// WaitEvent is the system call form of Wait.
func (c *Context) WaitEvent(mask EventMask, obj any) error {
	c.Enter()
	defer c.Leave()
	return c.Wait(mask, obj)
}

// Yield gives up the CPU to the next ready thread.
func (c *Context) Yield() {
	c.Enter()
	defer c.Leave()
	c.k.switchAway(c.t)
}

// Sleep blocks the calling thread for at least ms milliseconds. Signals do not
// end a sleep.
func (c *Context) Sleep(ms uint32) error {
	c.Enter()
	defer c.Leave()
	if err := c.k.timer.SleepFor(c.t.tid, ms); err != nil {
		return err
	}
	c.k.switchNoSigs(c.t)
	return nil
}

// Elapsed returns the milliseconds since boot.
func (c *Context) Elapsed() uint64 {
	c.Enter()
	defer c.Leave()
	return c.k.timer.Elapsed()
}

// Clone clones the calling process; see ProcTable.Clone.
func (c *Context) Clone(flags ProcFlags, child func(*Context)) (Pid, error) {
	return c.k.procs.Clone(c, flags, child)
}

// StartThread starts a thread in the calling process; see ProcTable.StartThread.
func (c *Context) StartThread(entry func(*Context)) (Tid, error) {
	return c.k.procs.StartThread(c, entry)
}

// Exec replaces the program of the calling process; see ProcTable.Exec.
func (c *Context) Exec(path string, args []string, image []byte) error {
	return c.k.procs.Exec(c, path, args, image)
}

// Join waits for a thread of the calling process; see ProcTable.Join.
func (c *Context) Join(tid Tid) error { return c.k.procs.Join(c, tid) }

// WaitChild collects a dead child; see ProcTable.WaitChild.
func (c *Context) WaitChild() (ExitState, error) { return c.k.procs.WaitChild(c) }

// Exit ends the calling thread; see ProcTable.Exit.
func (c *Context) Exit(code int) { c.k.procs.Exit(c, code) }

// Kill terminates process pid. Killing the own process does not return.
func (c *Context) Kill(pid Pid) error {
	c.Enter()
	defer c.Leave()
	if pid == InitPid {
		return errno.ErrInvalidPid
	}
	if err := c.k.procs.Terminate(pid, 0, SigKill); err != nil {
		return err
	}
	if c.t.state == StateZombie {
		c.k.switchAway(c.t)
	}
	return nil
}

// Raise sends sig to thread tid.
func (c *Context) Raise(tid Tid, sig Signal) error {
	c.Enter()
	defer c.Leave()
	t := c.k.threads.ByID(tid)
	if t == nil || t == c.k.threads.idle {
		return errno.ErrInvalidTid
	}
	if sig == SigNone || sig >= SigCount {
		return errno.ErrInvalidArgs
	}
	c.k.sigs.Raise(t, sig)
	return nil
}

// SetSignalHandler installs a handler for sig on the calling thread.
func (c *Context) SetSignalHandler(sig Signal, addr uintptr) error {
	c.Enter()
	defer c.Leave()
	return c.k.sigs.SetHandler(c.t, sig, addr)
}

// TakeSignal removes and returns the lowest pending signal of the calling
// thread.
func (c *Context) TakeSignal() (Signal, bool) {
	c.Enter()
	defer c.Leave()
	return c.k.sigs.Take(c.t)
}
