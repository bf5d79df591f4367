// Package task is the process and thread lifecycle core: the thread table, the
// scheduler, the timer, the process table, the event wait table and signals.
//
// The kernel runs hosted. One kernel lock stands for the single CPU: every
// system call and every timer interrupt runs with it held. Each thread except
// the idle thread is backed by a goroutine which may execute kernel code only
// while its thread is the running thread. Blocking a thread switches to the
// next ready thread and parks the goroutine until it is chosen again.
//
// Unless stated otherwise, methods of ThreadTable, Scheduler, Timer, ProcTable,
// EventTable and Signals must be called with the kernel lock held, that is
// from inside Context.Enter/Leave or Kernel.Interrupt.
package task

import (
	"fmt"

	"github.com/op/go-logging"
	"gvisor.dev/gvisor/pkg/sync"

	"nanokern/kernel/mem"
)

var log = logging.MustGetLogger("task")

// Tid identifies a thread.
type Tid uint32

// Pid identifies a process.
type Pid uint32

// FileNo identifies an open file in the VFS.
type FileNo int32

// NoFile marks a free file descriptor slot.
const NoFile FileNo = -1

const (
	// MaxThreadCount is the default capacity of the thread table.
	MaxThreadCount = 8192
	// MaxProcCount is the default capacity of the process table.
	MaxProcCount = 8192
	// MaxFdCount is the capacity of a process's descriptor table.
	MaxFdCount = 64

	// TimerFrequency is the default number of timer interrupts per second.
	TimerFrequency = 1000
	// TimeSlice is the default time slice in milliseconds.
	TimeSlice = 5

	// InitialStackPages is the size of a new thread's user stack.
	InitialStackPages = 1
)

const (
	InvalidTid Tid = ^Tid(0)
	InitTid    Tid = 0
	IdleTid    Tid = 1

	InvalidPid Pid = ^Pid(0)
	InitPid    Pid = 0
	// KernelPid owns the idle thread. It never appears in the process table.
	KernelPid Pid = ^Pid(0) - 1
)

// Sizes charged to the kernel heap.
const (
	threadObjSize   = 512
	procObjSize     = 1024
	listenerSize    = 24
	listNodeSize    = 16
	listHeaderBytes = 32
)

// Heap is the kernel heap budget.
type Heap interface {
	Alloc(n int) error
	Free(n int)
}

// Frames allocates physical page frames.
type Frames interface {
	Allocate() (mem.FrameNo, error)
	Free(f mem.FrameNo)
	FreeFrames() int
}

// VM manages address spaces and their regions.
type VM interface {
	CreateSpace(id mem.SpaceID) (mem.FrameNo, error)
	CloneSpace(src, dst mem.SpaceID) (mem.FrameNo, error)
	DestroySpace(id mem.SpaceID)
	AddRegion(id mem.SpaceID, size uintptr, kind mem.RegionKind) (mem.RegionID, error)
	RemoveRegion(id mem.SpaceID, rid mem.RegionID)
	RegionSize(id mem.SpaceID, rid mem.RegionID) (uintptr, bool)
	RemoveRegions(id mem.SpaceID, keepStacks bool)
	MapKernelStack(id mem.SpaceID, f mem.FrameNo)
}

// Loader maps program images.
type Loader interface {
	Load(id mem.SpaceID, path string, image []byte) (uintptr, error)
}

// VFS is the part of the virtual file system the task core talks to.
type VFS interface {
	CreateThread(tid Tid) error
	RemoveThread(tid Tid)
	IncRefs(file FileNo)
	CloseFile(pid Pid, file FileNo) FSWake
	// ReleaseProcess drops whatever else the file system keeps for pid,
	// such as the drivers it registered.
	ReleaseProcess(pid Pid) FSWake
}

// FSWake names who must be woken after the file system dropped a file or a
// driver: receivers waiting on Nodes, and drivers waiting for a client when
// Clients is set.
type FSWake struct {
	Nodes   []any
	Clients bool
}

// Merge adds o to w.
func (w *FSWake) Merge(o FSWake) {
	w.Nodes = append(w.Nodes, o.Nodes...)
	w.Clients = w.Clients || o.Clients
}

// Ports writes to I/O ports.
type Ports interface {
	OutByte(port uint16, val uint8)
}

// Cycles is a monotonic cycle counter.
type Cycles interface {
	Now() uint64
}

// Deps are the collaborators of the kernel.
type Deps struct {
	Heap   Heap
	Frames Frames
	VM     VM
	Loader Loader
	VFS    VFS
	Ports  Ports
	Cycles Cycles
}

// Config sizes the kernel tables and the timer.
type Config struct {
	MaxThreads     int
	MaxProcs       int
	TimerFrequency int
	TimeSliceMs    uint64
}

func (c Config) withDefaults() Config {
	if c.MaxThreads <= 0 {
		c.MaxThreads = MaxThreadCount
	}
	if c.MaxProcs <= 0 {
		c.MaxProcs = MaxProcCount
	}
	if c.TimerFrequency <= 0 {
		c.TimerFrequency = TimerFrequency
	}
	if c.TimeSliceMs == 0 {
		c.TimeSliceMs = TimeSlice
	}
	return c
}

func (c Config) validate() error {
	if c.MaxThreads < 2 {
		return fmt.Errorf("max threads %d: need room for init and idle", c.MaxThreads)
	}
	if c.TimerFrequency > 1000 {
		return fmt.Errorf("timer frequency %d: above 1000 Hz the millisecond clock stops", c.TimerFrequency)
	}
	return nil
}

// Kernel ties the task subsystems together.
type Kernel struct {
	cfg Config

	mu   sync.Mutex
	cond *sync.Cond

	heap   Heap
	frames Frames
	vm     VM
	loader Loader
	vfs    VFS
	ports  Ports
	cycles Cycles

	threads ThreadTable
	sched   Scheduler
	timer   Timer
	procs   ProcTable
	events  EventTable
	sigs    Signals

	reschedules uint64
}

// New boots the task core: it creates the init process with its first thread,
// the idle thread, and programs the timer. The calling goroutine becomes the
// init thread (see InitContext).
//
// Failures while creating the first thread or the timer listener list are
// fatal and end in Panic.
func New(cfg Config, d Deps) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("task config: %w", err)
	}
	if d.Heap == nil || d.Frames == nil || d.VM == nil || d.Loader == nil || d.VFS == nil {
		return nil, fmt.Errorf("task deps: heap, frames, vm, loader and vfs are required")
	}
	if d.Ports == nil {
		d.Ports = nopPorts{}
	}
	if d.Cycles == nil {
		d.Cycles = nopCycles{}
	}

	k := &Kernel{
		cfg:    cfg,
		heap:   d.Heap,
		frames: d.Frames,
		vm:     d.VM,
		loader: d.Loader,
		vfs:    d.VFS,
		ports:  d.Ports,
		cycles: d.Cycles,
	}
	k.cond = sync.NewCond(&k.mu)
	k.sched.k = k
	k.events.k = k
	k.sigs.k = k
	k.timer.k = k
	k.procs.init(k, cfg.MaxProcs)

	k.mu.Lock()
	defer k.mu.Unlock()

	init := k.procs.createInit()
	k.threads.init(k, cfg.MaxThreads, init)
	k.timer.Init(cfg.TimerFrequency, cfg.TimeSliceMs)

	log.Infof("task core up: %d thread slots, %d process slots, %d Hz", cfg.MaxThreads, cfg.MaxProcs, cfg.TimerFrequency)
	return k, nil
}

// Interrupt runs fn atomically with respect to all kernel code, the way an
// interrupt handler runs on a single CPU.
func (k *Kernel) Interrupt(fn func()) {
	k.mu.Lock()
	fn()
	k.mu.Unlock()
}

// InitContext returns the context of the init thread. It is meant for the
// goroutine that called New.
func (k *Kernel) InitContext() *Context {
	k.mu.Lock()
	t := k.threads.ByID(InitTid)
	k.mu.Unlock()
	return &Context{k: k, t: t}
}

// Config returns the effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

func (k *Kernel) Threads() *ThreadTable { return &k.threads }
func (k *Kernel) Sched() *Scheduler     { return &k.sched }
func (k *Kernel) Timer() *Timer         { return &k.timer }
func (k *Kernel) Procs() *ProcTable     { return &k.procs }
func (k *Kernel) Events() *EventTable   { return &k.events }
func (k *Kernel) Signals() *Signals     { return &k.sigs }

// Reschedules returns how many times a reschedule was performed.
func (k *Kernel) Reschedules() uint64 { return k.reschedules }

type nopPorts struct{}

func (nopPorts) OutByte(uint16, uint8) {}

type nopCycles struct{}

func (nopCycles) Now() uint64 { return 0 }
