package task

import (
	"fmt"

	"nanokern/kernel/errno"
	"nanokern/kernel/mem"
)

// State is the scheduling state of a thread.
type State uint8

const (
	StateUnused State = iota
	StateRunning
	StateReady
	StateBlocked
	StateZombie
	StateBlockedSusp
	StateReadySusp
	StateZombieSusp
)

func (s State) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	case StateBlockedSusp:
		return "blocked-susp"
	case StateReadySusp:
		return "ready-susp"
	case StateZombieSusp:
		return "zombie-susp"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Regs is the saved register set of a thread.
type Regs struct {
	IP, SP, BP uintptr
	GPR        [8]uintptr
	Flags      uint32
}

// FPUState is the saved floating point state. Threads that never used the FPU
// have none.
type FPUState [512]byte

// ThreadStats are the per-thread accounting counters.
type ThreadStats struct {
	UCycles    uint64
	KCycles    uint64
	SchedCount uint64
	Syscalls   uint64

	ucycleStart uint64
	kcycleStart uint64
}

// Thread is one schedulable unit of a process.
type Thread struct {
	tid   Tid
	pid   Pid
	state State

	events EventMask
	evObj  any

	ignoreSignals bool
	pending       sigMask
	handlers      map[Signal]uintptr

	Regs Regs
	FPU  *FPUState

	stackRegion mem.RegionID
	tlsRegion   mem.RegionID
	kstackFrame mem.FrameNo

	Stats ThreadStats

	// ready queue links
	prev, next *Thread
	queued     bool

	spinHeld int

	// gone is set once the thread has been torn down. A goroutine parked
	// on a gone thread exits.
	gone    bool
	entered bool
}

func (t *Thread) Tid() Tid                  { return t.tid }
func (t *Thread) Pid() Pid                  { return t.pid }
func (t *Thread) State() State              { return t.state }
func (t *Thread) Events() EventMask         { return t.events }
func (t *Thread) IgnoresSignals() bool      { return t.ignoreSignals }
func (t *Thread) StackRegion() mem.RegionID { return t.stackRegion }
func (t *Thread) TLSRegion() mem.RegionID   { return t.tlsRegion }
func (t *Thread) KernelStack() mem.FrameNo  { return t.kstackFrame }

// SetTLSRegion records the TLS region of t.
func (t *Thread) SetTLSRegion(rid mem.RegionID) { t.tlsRegion = rid }

// ThreadTable owns all threads.
type ThreadTable struct {
	k *Kernel

	slots   []*Thread
	count   int
	nextTid Tid

	cur  *Thread
	idle *Thread

	// dead holds threads that killed themselves. They are destroyed at the
	// next thread switch, once they no longer run.
	dead []*Thread
}

func (tt *ThreadTable) init(k *Kernel, max int, init *Proc) {
	tt.k = k
	if err := k.heap.Alloc(listHeaderBytes + max*listNodeSize); err != nil {
		Panic("unable to create thread-list")
	}
	tt.slots = make([]*Thread, max)

	t := tt.CreateInitial(init)
	tt.cur = t

	tt.idle = tt.createIdle()
}

// CreateInitial creates the first thread of p. It is running and gets the
// initial kernel stack of the system.
func (tt *ThreadTable) CreateInitial(p *Proc) *Thread {
	k := tt.k
	if err := k.heap.Alloc(threadObjSize + listNodeSize); err != nil {
		Panic("unable to allocate mem for initial thread")
	}
	tid := tt.getFreeTid()
	if tid == InvalidTid {
		Panic("no free slot for the initial thread")
	}
	t := newThread(tid, p.pid)
	t.state = StateRunning
	kstack, err := k.frames.Allocate()
	if err != nil {
		Panic("no frame for the initial kernel stack")
	}
	t.kstackFrame = kstack
	p.own++
	k.vm.MapKernelStack(mem.SpaceID(p.pid), kstack)
	tt.insert(t)
	if err := k.vfs.CreateThread(tid); err != nil {
		Panic("unable to put initial thread into vfs: %v", err)
	}
	p.threads = append(p.threads, tid)
	return t
}

func (tt *ThreadTable) createIdle() *Thread {
	if err := tt.k.heap.Alloc(threadObjSize + listNodeSize); err != nil {
		Panic("unable to allocate mem for the idle thread")
	}
	tid := tt.getFreeTid()
	if tid == InvalidTid {
		Panic("no free slot for the idle thread")
	}
	t := newThread(tid, KernelPid)
	t.state = StateReady
	tt.insert(t)
	return t
}

func newThread(tid Tid, pid Pid) *Thread {
	return &Thread{
		tid:         tid,
		pid:         pid,
		stackRegion: mem.NoRegion,
		tlsRegion:   mem.NoRegion,
		kstackFrame: mem.NoFrame,
	}
}

func (tt *ThreadTable) insert(t *Thread) {
	tt.slots[t.tid] = t
	tt.count++
}

// getFreeTid scans the table circularly, starting at the tid after the one
// handed out last.
func (tt *ThreadTable) getFreeTid() Tid {
	n := len(tt.slots)
	if tt.count >= n {
		return InvalidTid
	}
	for i := 0; i < n; i++ {
		tid := tt.nextTid
		tt.nextTid = Tid((int(tt.nextTid) + 1) % n)
		if tt.slots[tid] == nil {
			return tid
		}
	}
	return InvalidTid
}

// Count returns the number of threads, idle included.
func (tt *ThreadTable) Count() int { return tt.count }

// ByID returns the thread with the given id, or nil.
func (tt *ThreadTable) ByID(tid Tid) *Thread {
	if int(tid) >= len(tt.slots) {
		return nil
	}
	return tt.slots[tid]
}

// Running returns the running thread.
func (tt *ThreadTable) Running() *Thread { return tt.cur }

// Idle returns the idle thread.
func (tt *ThreadTable) Idle() *Thread { return tt.idle }

// Each calls fn for every thread in id order.
func (tt *ThreadTable) Each(fn func(t *Thread)) {
	for _, t := range tt.slots {
		if t != nil {
			fn(t)
		}
	}
}

// Clone creates a thread in p as a copy of src.
//
// With cloneProc set the thread is the first thread of a freshly cloned
// process and reuses src's stack and TLS regions (which exist in p's copied
// address space); the caller supplies the kernel stack. Otherwise a new user
// stack region, a kernel stack frame and, if src has one, a TLS region of the
// same size are created in p.
//
// The new thread is not scheduled. Every failure releases what was acquired.
func (tt *ThreadTable) Clone(src *Thread, p *Proc, cloneProc bool) (*Thread, error) {
	k := tt.k
	if err := k.heap.Alloc(threadObjSize); err != nil {
		return nil, err
	}
	tid := tt.getFreeTid()
	if tid == InvalidTid {
		k.heap.Free(threadObjSize)
		return nil, errno.ErrNoFreeThreads
	}

	t := newThread(tid, p.pid)
	t.state = StateRunning
	t.Regs = src.Regs
	if src.FPU != nil {
		fpu := *src.FPU
		t.FPU = &fpu
	}

	space := mem.SpaceID(p.pid)
	if cloneProc {
		t.stackRegion = src.stackRegion
		t.tlsRegion = src.tlsRegion
	} else {
		if k.frames.FreeFrames() < 1 {
			k.heap.Free(threadObjSize)
			return nil, errno.ErrNoMem
		}
		stack, err := k.vm.AddRegion(space, InitialStackPages*mem.PageSize, mem.RegStack)
		if err != nil {
			k.heap.Free(threadObjSize)
			return nil, err
		}
		t.stackRegion = stack
		kstack, err := k.frames.Allocate()
		if err != nil {
			tt.releaseRegions(t, space)
			k.heap.Free(threadObjSize)
			return nil, err
		}
		t.kstackFrame = kstack
		p.own++
		if src.tlsRegion != mem.NoRegion {
			size, _ := k.vm.RegionSize(mem.SpaceID(src.pid), src.tlsRegion)
			tls, err := k.vm.AddRegion(space, size, mem.RegTLS)
			if err != nil {
				k.frames.Free(t.kstackFrame)
				p.own--
				tt.releaseRegions(t, space)
				k.heap.Free(threadObjSize)
				return nil, err
			}
			t.tlsRegion = tls
		}
		k.sigs.cloneHandlers(src, t)
	}

	if err := k.heap.Alloc(listNodeSize); err != nil {
		tt.unwindClone(t, p, cloneProc)
		return nil, err
	}
	tt.insert(t)

	if err := k.vfs.CreateThread(tid); err != nil {
		tt.slots[tid] = nil
		tt.count--
		k.heap.Free(listNodeSize)
		tt.unwindClone(t, p, cloneProc)
		return nil, err
	}

	log.Debugf("thread %d cloned from %d into process %d", tid, src.tid, p.pid)
	return t, nil
}

func (tt *ThreadTable) unwindClone(t *Thread, p *Proc, cloneProc bool) {
	k := tt.k
	if !cloneProc {
		k.frames.Free(t.kstackFrame)
		p.own--
		tt.releaseRegions(t, mem.SpaceID(p.pid))
	}
	k.heap.Free(threadObjSize)
}

func (tt *ThreadTable) releaseRegions(t *Thread, space mem.SpaceID) {
	if t.tlsRegion != mem.NoRegion {
		tt.k.vm.RemoveRegion(space, t.tlsRegion)
		t.tlsRegion = mem.NoRegion
	}
	if t.stackRegion != mem.NoRegion {
		tt.k.vm.RemoveRegion(space, t.stackRegion)
		t.stackRegion = mem.NoRegion
	}
}

// Kill kills t. A thread that is not running is destroyed at once. The
// running thread becomes a zombie and is destroyed at the next thread switch;
// the caller must switch away from it.
func (tt *ThreadTable) Kill(t *Thread) {
	k := tt.k
	if t == tt.idle {
		Panic("attempt to kill the idle thread")
	}
	if t.gone || t.state == StateZombie {
		return
	}
	if t != tt.cur {
		tt.destroy(t)
		return
	}
	if err := k.heap.Alloc(listNodeSize); err != nil {
		Panic("not enough mem to append dead thread")
	}
	tt.dead = append(tt.dead, t)
	k.events.RemoveThread(t)
	k.sched.RemoveThread(t)
	k.timer.RemoveThread(t.tid)
	t.state = StateZombie
	log.Debugf("thread %d is a zombie", t.tid)
}

// ReapDead destroys the threads that killed themselves.
func (tt *ThreadTable) ReapDead() {
	for len(tt.dead) > 0 {
		t := tt.dead[0]
		tt.dead = tt.dead[1:]
		tt.k.heap.Free(listNodeSize)
		tt.destroy(t)
	}
	tt.dead = nil
}

// Dead returns the number of threads waiting to be reaped.
func (tt *ThreadTable) Dead() int { return len(tt.dead) }

func (tt *ThreadTable) destroy(t *Thread) {
	k := tt.k
	if t.gone {
		return
	}
	p := k.procs.ByPid(t.pid)
	space := mem.SpaceID(t.pid)

	tt.releaseRegions(t, space)
	if t.kstackFrame != mem.NoFrame {
		k.frames.Free(t.kstackFrame)
		t.kstackFrame = mem.NoFrame
		if p != nil {
			p.own--
		}
	}

	k.events.RemoveThread(t)
	k.sched.RemoveThread(t)
	k.timer.RemoveThread(t.tid)
	t.pending = 0
	k.vfs.RemoveThread(t.tid)

	tt.slots[t.tid] = nil
	tt.count--
	k.heap.Free(threadObjSize + listNodeSize)
	t.gone = true
	t.state = StateZombie

	if p != nil {
		p.removeThread(t)
		if len(p.threads) == 1 {
			if rest := tt.ByID(p.threads[0]); rest != nil {
				k.vm.MapKernelStack(space, rest.kstackFrame)
			}
		}
		k.sigs.AddSignalFor(p.pid, SigThreadDied)
		k.events.Wakeup(EvThreadDied, p)
		if len(p.threads) == 0 && p.flags&pKillPending != 0 {
			k.procs.release(p)
		}
	}
	log.Debugf("thread %d destroyed", t.tid)
	k.cond.Broadcast()
}

// SetReady makes t runnable. See Scheduler.SetReady.
func (tt *ThreadTable) SetReady(tid Tid) error {
	t := tt.ByID(tid)
	if t == nil {
		return errno.ErrInvalidTid
	}
	if !t.ignoreSignals {
		tt.k.events.RemoveThread(t)
		tt.k.sched.SetReady(t)
	}
	return nil
}

// SetBlocked blocks t. See Scheduler.SetBlocked.
func (tt *ThreadTable) SetBlocked(tid Tid) error {
	t := tt.ByID(tid)
	if t == nil {
		return errno.ErrInvalidTid
	}
	tt.k.sched.SetBlocked(t)
	return nil
}

// SetSuspended suspends or resumes t. See Scheduler.SetSuspended.
func (tt *ThreadTable) SetSuspended(tid Tid, suspend bool) error {
	t := tt.ByID(tid)
	if t == nil {
		return errno.ErrInvalidTid
	}
	tt.k.sched.SetSuspended(t, suspend)
	return nil
}
