package task

import (
	"fmt"
	"sort"

	"nanokern/kernel/errno"
	"nanokern/kernel/mem"
)

// ProcFlags describe a process.
type ProcFlags uint8

const (
	PZombie ProcFlags = 1 << iota
	PPreZombie
	PFS
	PBoot
	pKillPending
)

func (f ProcFlags) String() string {
	s := ""
	for i, n := range []string{"Z", "z", "F", "B", "K"} {
		if f&(1<<i) != 0 {
			s += n
		} else {
			s += "-"
		}
	}
	return s
}

// ExitState is what a parent collects from a dead child.
type ExitState struct {
	Pid          Pid
	Signal       Signal
	ExitCode     int
	OwnFrames    int64
	SharedFrames int64
	Swapped      int64
	Runtime      uint64
	SchedCount   uint64
	Syscalls     uint64
}

// Creds are the user and group ids of a process.
type Creds struct {
	RUID, EUID, SUID uint32
	RGID, EGID, SGID uint32
}

// Proc is a process.
type Proc struct {
	k *Kernel

	pid    Pid
	parent Pid
	Creds  Creds
	flags  ProcFlags

	pagedir mem.FrameNo
	entry   uintptr
	command string
	args    []string

	own, shared, swapped             int64
	peakOwn, peakShared, peakSwapped int64

	threads []Tid
	fds     [MaxFdCount]FileNo
	env     map[string]string

	spins   [spinDomains]SpinLock
	mutexes [mutexDomains]Mutex

	exit ExitState
}

func newProc(k *Kernel, pid, parent Pid) *Proc {
	p := &Proc{k: k, pid: pid, parent: parent, pagedir: mem.NoFrame, env: make(map[string]string)}
	for i := range p.fds {
		p.fds[i] = NoFile
	}
	for d := SpinDomain(0); d < spinDomains; d++ {
		p.spins[d] = SpinLock{k: k, name: fmt.Sprintf("%d/%s", pid, d)}
	}
	for d := MutexDomain(0); d < mutexDomains; d++ {
		p.mutexes[d] = Mutex{k: k, name: fmt.Sprintf("%d/%s", pid, d)}
	}
	return p
}

func spaceOf(p *Proc) mem.SpaceID { return mem.SpaceID(p.pid) }

func (p *Proc) Pid() Pid             { return p.pid }
func (p *Proc) Parent() Pid          { return p.parent }
func (p *Proc) Flags() ProcFlags     { return p.flags }
func (p *Proc) Zombie() bool         { return p.flags&PZombie != 0 }
func (p *Proc) PageDir() mem.FrameNo { return p.pagedir }
func (p *Proc) Entry() uintptr       { return p.entry }
func (p *Proc) Command() string      { return p.command }
func (p *Proc) Args() []string       { return append([]string(nil), p.args...) }
func (p *Proc) Threads() []Tid       { return append([]Tid(nil), p.threads...) }

func (p *Proc) Spin(d SpinDomain) *SpinLock { return &p.spins[d] }
func (p *Proc) Mutex(d MutexDomain) *Mutex  { return &p.mutexes[d] }

// SetFlags sets the flags in f. Zombie flags are managed by the kernel.
func (p *Proc) SetFlags(f ProcFlags) { p.flags |= f &^ (PZombie | pKillPending) }

// SetCommand sets the command line shown for p.
func (p *Proc) SetCommand(cmd string, args []string) {
	p.command = cmd
	p.args = append([]string(nil), args...)
}

// Memory accounting, in frames.

func (p *Proc) AddOwn(n int64) {
	p.own += n
	if p.own > p.peakOwn {
		p.peakOwn = p.own
	}
}

func (p *Proc) AddShared(n int64) {
	p.shared += n
	if p.shared > p.peakShared {
		p.peakShared = p.shared
	}
}

func (p *Proc) AddSwap(n int64) {
	p.swapped += n
	if p.swapped > p.peakSwapped {
		p.peakSwapped = p.swapped
	}
}

// MemUsage returns the current own, shared and swapped frame counts.
func (p *Proc) MemUsage() (own, shared, swapped int64) { return p.own, p.shared, p.swapped }

// PeakUsage returns the peak own, shared and swapped frame counts.
func (p *Proc) PeakUsage() (own, shared, swapped int64) {
	return p.peakOwn, p.peakShared, p.peakSwapped
}

func (p *Proc) liveThreads() int {
	n := 0
	for _, tid := range p.threads {
		if t := p.k.threads.ByID(tid); t != nil && t.state != StateZombie && t.state != StateZombieSusp {
			n++
		}
	}
	return n
}

func (p *Proc) removeThread(t *Thread) {
	for i, tid := range p.threads {
		if tid == t.tid {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	p.exit.Runtime += t.Stats.UCycles + t.Stats.KCycles
	p.exit.SchedCount += t.Stats.SchedCount
	p.exit.Syscalls += t.Stats.Syscalls

	// A dead owner must not keep the program or region lock.
	for d := range p.mutexes {
		if p.mutexes[d].owner == t {
			p.mutexes[d].owner = nil
			p.k.events.Wakeup(EvMutex, &p.mutexes[d])
		}
	}
}

// ProcTable owns all processes.
type ProcTable struct {
	k       *Kernel
	slots   []*Proc
	count   int
	nextPid Pid
}

func (pt *ProcTable) init(k *Kernel, max int) {
	pt.k = k
	pt.slots = make([]*Proc, max)
}

func (pt *ProcTable) createInit() *Proc {
	k := pt.k
	if err := k.heap.Alloc(procObjSize); err != nil {
		Panic("unable to allocate the init process")
	}
	p := newProc(k, InitPid, InitPid)
	p.flags = PBoot
	p.command = "init"
	pd, err := k.vm.CreateSpace(spaceOf(p))
	if err != nil {
		Panic("unable to create the init address space: %v", err)
	}
	p.pagedir = pd
	p.AddOwn(1)
	pt.slots[InitPid] = p
	pt.count++
	pt.nextPid = InitPid + 1
	return p
}

func (pt *ProcTable) getFreePid() Pid {
	n := len(pt.slots)
	if pt.count >= n {
		return InvalidPid
	}
	for i := 0; i < n; i++ {
		pid := pt.nextPid
		pt.nextPid = Pid((int(pt.nextPid) + 1) % n)
		if pt.slots[pid] == nil {
			return pid
		}
	}
	return InvalidPid
}

// ByPid returns the process with the given id, or nil.
func (pt *ProcTable) ByPid(pid Pid) *Proc {
	if int(pid) >= len(pt.slots) {
		return nil
	}
	return pt.slots[pid]
}

// Count returns the number of processes, zombies included.
func (pt *ProcTable) Count() int { return pt.count }

// Each calls fn for every process in pid order.
func (pt *ProcTable) Each(fn func(p *Proc)) {
	for _, p := range pt.slots {
		if p != nil {
			fn(p)
		}
	}
}

// MemUsage sums the frame accounting of all processes.
func (pt *ProcTable) MemUsage() (own, shared, swapped int64) {
	for _, p := range pt.slots {
		if p != nil {
			own += p.own
			shared += p.shared
			swapped += p.swapped
		}
	}
	return own, shared, swapped
}

func (pt *ProcTable) children(pid Pid) []*Proc {
	var out []*Proc
	for _, p := range pt.slots {
		if p != nil && p.parent == pid && p.pid != pid {
			out = append(out, p)
		}
	}
	return out
}

// Clone duplicates the calling process. The child gets a copy of the address
// space, the descriptor table, the environment and the credentials, and one
// thread cloned from the caller that runs child once scheduled. It returns the
// child pid to the parent.
func (pt *ProcTable) Clone(c *Context, flags ProcFlags, child func(*Context)) (Pid, error) {
	c.Enter()
	defer c.Leave()

	parent := c.proc()
	prog := parent.Mutex(LockProg)
	prog.Lock()

	pid, err := pt.clone(c.t, parent, flags, child)
	prog.Unlock()
	if err != nil {
		log.Warningf("clone of process %d failed: %v", parent.pid, err)
		return InvalidPid, err
	}
	log.Infof("process %d cloned from %d", pid, parent.pid)
	return pid, nil
}

func (pt *ProcTable) clone(src *Thread, parent *Proc, flags ProcFlags, child func(*Context)) (Pid, error) {
	k := pt.k
	pid := pt.getFreePid()
	if pid == InvalidPid {
		return InvalidPid, errno.ErrNoFreePid
	}
	if err := k.heap.Alloc(procObjSize); err != nil {
		return InvalidPid, err
	}

	p := newProc(k, pid, parent.pid)
	p.Creds = parent.Creds
	p.flags = flags &^ (PZombie | PPreZombie | pKillPending)
	p.entry = parent.entry
	p.SetCommand(parent.command, parent.args)

	parent.Spin(LockEnv).Lock()
	for key, v := range parent.env {
		p.env[key] = v
	}
	parent.Spin(LockEnv).Unlock()

	pd, err := k.vm.CloneSpace(spaceOf(parent), spaceOf(p))
	if err != nil {
		k.heap.Free(procObjSize)
		return InvalidPid, err
	}
	p.pagedir = pd
	p.AddOwn(1)

	kstack, err := k.frames.Allocate()
	if err != nil {
		k.vm.DestroySpace(spaceOf(p))
		k.heap.Free(procObjSize)
		return InvalidPid, err
	}

	pt.slots[pid] = p
	pt.count++

	t, err := k.threads.Clone(src, p, true)
	if err != nil {
		pt.slots[pid] = nil
		pt.count--
		k.frames.Free(kstack)
		k.vm.DestroySpace(spaceOf(p))
		k.heap.Free(procObjSize)
		return InvalidPid, err
	}
	t.kstackFrame = kstack
	p.AddOwn(1)
	p.threads = append(p.threads, t.tid)
	k.vm.MapKernelStack(spaceOf(p), kstack)

	// Descriptors are duplicated only once nothing can fail any more.
	parent.Spin(LockFds).Lock()
	for i, f := range parent.fds {
		if f != NoFile {
			k.vfs.IncRefs(f)
			p.fds[i] = f
		}
	}
	parent.Spin(LockFds).Unlock()

	k.sched.SetReady(t)
	k.spawn(t, child)
	return pid, nil
}

// StartThread starts a new thread in the caller's process running entry.
func (pt *ProcTable) StartThread(c *Context, entry func(*Context)) (Tid, error) {
	c.Enter()
	defer c.Leave()

	k := pt.k
	p := c.proc()
	prog := p.Mutex(LockProg)
	prog.Lock()
	t, err := k.threads.Clone(c.t, p, false)
	if err != nil {
		prog.Unlock()
		return InvalidTid, err
	}
	p.threads = append(p.threads, t.tid)
	k.sched.SetReady(t)
	k.spawn(t, entry)
	prog.Unlock()
	log.Debugf("thread %d started in process %d", t.tid, p.pid)
	return t.tid, nil
}

// Exec replaces the program of the caller's process. All regions but the
// stacks are removed, the image for path (or image, if given) is loaded and
// the entry point reset.
func (pt *ProcTable) Exec(c *Context, path string, args []string, image []byte) error {
	c.Enter()
	defer c.Leave()

	k := pt.k
	p := c.proc()
	prog := p.Mutex(LockProg)
	prog.Lock()
	regions := p.Mutex(LockRegions)
	regions.Lock()

	k.vm.RemoveRegions(spaceOf(p), true)
	entry, err := k.loader.Load(spaceOf(p), path, image)
	regions.Unlock()
	if err != nil {
		prog.Unlock()
		log.Warningf("exec %q in process %d: %v", path, p.pid, err)
		return err
	}
	p.entry = entry
	c.t.Regs.IP = entry
	p.SetCommand(path, args)
	prog.Unlock()
	log.Infof("process %d exec %q", p.pid, path)
	return nil
}

// Join blocks until thread tid of the caller's process is gone, or with tid
// zero until the caller is the last thread of its process. A thread cannot
// join itself.
func (pt *ProcTable) Join(c *Context, tid Tid) error {
	c.Enter()
	defer c.Leave()

	k := pt.k
	p := c.proc()
	if tid == c.t.tid {
		return errno.ErrInvalidTid
	}
	for {
		if tid != 0 {
			t := k.threads.ByID(tid)
			if t == nil || t.pid != p.pid || t.state == StateZombie {
				return nil
			}
		} else if p.liveThreads() <= 1 {
			return nil
		}
		k.events.Wait(c.t, EvThreadDied, p)
		k.switchNoSigs(c.t)
	}
}

// WaitChild blocks until a child of the caller's process is a zombie, collects
// its exit state and releases it.
func (pt *ProcTable) WaitChild(c *Context) (ExitState, error) {
	c.Enter()
	defer c.Leave()

	k := pt.k
	p := c.proc()
	for {
		kids := pt.children(p.pid)
		if len(kids) == 0 {
			return ExitState{}, errno.ErrNoChild
		}
		for _, ch := range kids {
			if !ch.Zombie() {
				continue
			}
			st := ch.exit
			st.Pid = ch.pid
			st.OwnFrames = ch.peakOwn
			st.SharedFrames = ch.peakShared
			st.Swapped = ch.peakSwapped
			pt.Kill(ch)
			log.Debugf("process %d collected child %d (code %d, signal %s)", p.pid, st.Pid, st.ExitCode, st.Signal)
			return st, nil
		}
		k.events.Wait(c.t, EvChildDied, p)
		k.switchAway(c.t)
		if k.sigs.HasSignalFor(c.t) {
			return ExitState{}, errno.ErrInterrupted
		}
	}
}

// Exit ends the calling thread. The last live thread of a process ends the
// process with code. Exit does not return.
func (pt *ProcTable) Exit(c *Context, code int) {
	c.Enter()
	k := pt.k
	p := c.proc()
	if p.liveThreads() <= 1 {
		pt.Terminate(p.pid, code, SigNone)
	} else {
		k.threads.Kill(c.t)
	}
	k.switchAway(c.t)
	Panic("thread %d resumed after exit", c.t.tid)
}

// Terminate makes pid a zombie with the given exit code and signal, kills all
// of its threads and wakes its parent. Live children go to init; zombie
// children are released.
func (pt *ProcTable) Terminate(pid Pid, code int, sig Signal) error {
	k := pt.k
	p := pt.ByPid(pid)
	if p == nil {
		return errno.ErrInvalidPid
	}
	if p.Zombie() {
		return nil
	}
	p.flags |= PZombie
	p.exit.Pid = pid
	p.exit.ExitCode = code
	p.exit.Signal = sig

	for _, tid := range p.Threads() {
		if t := k.threads.ByID(tid); t != nil {
			k.threads.Kill(t)
		}
	}

	for _, ch := range pt.children(pid) {
		if ch.Zombie() {
			pt.Kill(ch)
		} else {
			ch.parent = InitPid
		}
	}

	if parent := pt.ByPid(p.parent); parent != nil && parent != p && !parent.Zombie() {
		k.sigs.AddSignalFor(parent.pid, SigChildTerm)
		k.events.Wakeup(EvChildDied, parent)
	} else if p.pid != InitPid {
		// Nobody will collect it.
		pt.Kill(p)
	}
	log.Infof("process %d terminated (code %d, signal %s)", pid, code, sig)
	return nil
}

// Kill releases the resources of the zombie p. The release is deferred while
// p still has threads waiting to be reaped.
func (pt *ProcTable) Kill(p *Proc) {
	// Nobody can collect it twice.
	p.parent = InvalidPid
	if len(p.threads) > 0 {
		p.flags |= pKillPending
		return
	}
	pt.release(p)
}

func (pt *ProcTable) release(p *Proc) {
	k := pt.k
	if pt.slots[p.pid] != p {
		return
	}
	var w FSWake
	for i, f := range p.fds {
		if f != NoFile {
			w.Merge(k.vfs.CloseFile(p.pid, f))
			p.fds[i] = NoFile
		}
	}
	w.Merge(k.vfs.ReleaseProcess(p.pid))
	k.events.WakeFS(w)
	k.vm.DestroySpace(spaceOf(p))
	pt.slots[p.pid] = nil
	pt.count--
	k.heap.Free(procObjSize)
	log.Debugf("process %d released", p.pid)
}

// KillThread kills one thread. If it was the last live thread of its process
// the process terminates.
func (pt *ProcTable) KillThread(tid Tid) error {
	k := pt.k
	t := k.threads.ByID(tid)
	if t == nil || t == k.threads.idle {
		return errno.ErrInvalidTid
	}
	p := pt.ByPid(t.pid)
	if p != nil && p.liveThreads() <= 1 {
		return pt.Terminate(p.pid, 0, SigKill)
	}
	k.threads.Kill(t)
	return nil
}

// Destroy terminates pid by force and releases it without waiting for a
// parent.
func (pt *ProcTable) Destroy(pid Pid) error {
	if pid == InitPid {
		return errno.ErrInvalidPid
	}
	if err := pt.Terminate(pid, 0, SigKill); err != nil {
		return err
	}
	if p := pt.ByPid(pid); p != nil {
		pt.Kill(p)
	}
	return nil
}

// GetFreeFd returns the lowest free descriptor of p.
func (p *Proc) GetFreeFd() (int, error) {
	l := p.Spin(LockFds)
	l.Lock()
	defer l.Unlock()
	return p.freeFd()
}

func (p *Proc) freeFd() (int, error) {
	for i, f := range p.fds {
		if f == NoFile {
			return i, nil
		}
	}
	return -1, errno.ErrMaxFds
}

// AssocFd binds file to the lowest free descriptor of p.
func (p *Proc) AssocFd(file FileNo) (int, error) {
	l := p.Spin(LockFds)
	l.Lock()
	defer l.Unlock()
	fd, err := p.freeFd()
	if err != nil {
		return -1, err
	}
	p.fds[fd] = file
	return fd, nil
}

// UnassocFd releases fd and returns the file it was bound to.
func (p *Proc) UnassocFd(fd int) (FileNo, error) {
	l := p.Spin(LockFds)
	l.Lock()
	defer l.Unlock()
	if fd < 0 || fd >= MaxFdCount || p.fds[fd] == NoFile {
		return NoFile, errno.ErrInvalidFd
	}
	f := p.fds[fd]
	p.fds[fd] = NoFile
	return f, nil
}

// FileOf returns the file bound to fd.
func (p *Proc) FileOf(fd int) (FileNo, error) {
	l := p.Spin(LockFds)
	l.Lock()
	defer l.Unlock()
	if fd < 0 || fd >= MaxFdCount || p.fds[fd] == NoFile {
		return NoFile, errno.ErrInvalidFd
	}
	return p.fds[fd], nil
}

// OpenFds returns the bound descriptors in ascending order.
func (p *Proc) OpenFds() []int {
	var out []int
	for i, f := range p.fds {
		if f != NoFile {
			out = append(out, i)
		}
	}
	return out
}

// SetEnv sets an environment variable.
func (p *Proc) SetEnv(key, val string) error {
	if key == "" {
		return errno.ErrInvalidArgs
	}
	l := p.Spin(LockEnv)
	l.Lock()
	p.env[key] = val
	l.Unlock()
	return nil
}

// GetEnv returns an environment variable.
func (p *Proc) GetEnv(key string) (string, bool) {
	l := p.Spin(LockEnv)
	l.Lock()
	v, ok := p.env[key]
	l.Unlock()
	return v, ok
}

// EnvKeys returns the environment variable names in sorted order.
func (p *Proc) EnvKeys() []string {
	keys := make([]string, 0, len(p.env))
	for k := range p.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
