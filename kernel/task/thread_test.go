package task

import (
	"testing"

	"nanokern/kernel/errno"
	"nanokern/kernel/mem"
)

func TestNewProgramsTimer(t *testing.T) {
	r := newRig(t, Config{})
	want := []portWrite{{0x43, 0x34}, {0x40, 0xA9}, {0x40, 0x04}}
	if len(r.ports.writes) != len(want) {
		t.Fatalf("expected %d port writes, got %v", len(want), r.ports.writes)
	}
	for i, w := range want {
		if r.ports.writes[i] != w {
			t.Fatalf("write %d: expected %+v, got %+v", i, w, r.ports.writes[i])
		}
	}
}

func TestNewInitAndIdle(t *testing.T) {
	r := newRig(t, Config{})
	r.k.Interrupt(func() {
		cur := r.k.threads.Running()
		if cur.Tid() != InitTid || cur.State() != StateRunning {
			t.Errorf("expected running init thread, got %d (%s)", cur.Tid(), cur.State())
		}
		idle := r.k.threads.Idle()
		if idle.Tid() != IdleTid || idle.Pid() != KernelPid {
			t.Errorf("expected idle thread %d of the kernel, got %d of %d", IdleTid, idle.Tid(), idle.Pid())
		}
		if got := r.k.sched.Perform(); got != idle {
			t.Errorf("expected idle from an empty queue, got %d", got.Tid())
		}
		if !r.vfs.threads[InitTid] {
			t.Error("expected init thread in the thread directory")
		}
	})
}

func TestNewPanicsWithoutHeap(t *testing.T) {
	frames := mem.NewFrames(16)
	vm := mem.NewVM(frames)
	expectPanic(t, func() {
		New(Config{}, Deps{
			Heap:   mem.NewHeap(procObjSize + 1),
			Frames: frames,
			VM:     vm,
			Loader: mem.NewLoader(vm),
			VFS:    newFakeVFS(),
		})
	})
	if !InPanicMode() {
		t.Fatal("expected panic mode after a fatal boot failure")
	}
}

func TestNewRejectsFastTimer(t *testing.T) {
	frames := mem.NewFrames(16)
	vm := mem.NewVM(frames)
	_, err := New(Config{TimerFrequency: 2000}, Deps{
		Heap: mem.NewHeap(0), Frames: frames, VM: vm, Loader: mem.NewLoader(vm), VFS: newFakeVFS(),
	})
	if err == nil {
		t.Fatal("expected an error for a 2000 Hz timer")
	}
}

func TestThreadIdsDenseAndReused(t *testing.T) {
	r := newRig(t, Config{MaxThreads: 6})
	var got []Tid
	for i := 0; i < 4; i++ {
		got = append(got, r.clone(t).Tid())
	}
	for i, tid := range []Tid{2, 3, 4, 5} {
		if got[i] != tid {
			t.Fatalf("expected tids 2..5, got %v", got)
		}
	}

	r.k.Interrupt(func() {
		p := r.k.procs.ByPid(InitPid)
		if _, err := r.k.threads.Clone(r.k.threads.Running(), p, false); err != errno.ErrNoFreeThreads {
			t.Errorf("expected %v, got %v", errno.ErrNoFreeThreads, err)
		}
		r.k.threads.Kill(r.k.threads.ByID(3))
		if r.k.threads.ByID(3) != nil {
			t.Error("expected tid 3 to be free after kill")
		}
		if r.vfs.threads[3] {
			t.Error("expected tid 3 to leave the thread directory")
		}
	})

	if tid := r.clone(t).Tid(); tid != 3 {
		t.Fatalf("expected freed tid 3 to be reused, got %d", tid)
	}
}

func TestKillRunningThreadIsDeferred(t *testing.T) {
	r := newRig(t, Config{})
	th := r.clone(t)
	r.k.Interrupt(func() {
		r.k.sched.SetReady(th)
		init := r.k.threads.Running()
		r.k.threads.Kill(init)

		if init.State() != StateZombie {
			t.Errorf("expected zombie, got %s", init.State())
		}
		if r.k.threads.ByID(InitTid) != init || r.k.threads.Dead() != 1 {
			t.Error("expected the running thread to stay in the table until the next switch")
		}

		r.k.reschedule()
		if r.k.threads.Running() != th {
			t.Errorf("expected thread %d to run, got %d", th.Tid(), r.k.threads.Running().Tid())
		}
		if r.k.threads.ByID(InitTid) != nil || r.k.threads.Dead() != 0 {
			t.Error("expected the zombie to be reaped at the switch")
		}
		if got := r.vm.KernelStack(0); got != th.KernelStack() {
			t.Errorf("expected the sole thread's kernel stack %d to be mapped, got %d", th.KernelStack(), got)
		}
	})
}

func TestCloneUnwindsOnFailure(t *testing.T) {
	r := newRig(t, Config{})
	var tls mem.RegionID
	r.k.Interrupt(func() {
		var err error
		tls, err = r.vm.AddRegion(0, 2*mem.PageSize, mem.RegTLS)
		if err != nil {
			t.Fatalf("AddRegion: %v", err)
		}
		r.k.threads.Running().SetTLSRegion(tls)
	})

	freeFrames := r.frames.FreeFrames()
	heapUsed := r.heap.Used()
	regions := len(r.vm.Regions(0))
	threads := r.k.threads.Count()

	check := func(what string) {
		t.Helper()
		if got := r.frames.FreeFrames(); got != freeFrames {
			t.Fatalf("%s: expected %d free frames, got %d", what, freeFrames, got)
		}
		if got := r.heap.Used(); got != heapUsed {
			t.Fatalf("%s: expected heap use %d, got %d", what, heapUsed, got)
		}
		if got := len(r.vm.Regions(0)); got != regions {
			t.Fatalf("%s: expected %d regions, got %d", what, regions, got)
		}
		if got := r.k.threads.Count(); got != threads {
			t.Fatalf("%s: expected %d threads, got %d", what, threads, got)
		}
	}

	clone := func() error {
		var err error
		r.k.Interrupt(func() {
			_, err = r.k.threads.Clone(r.k.threads.Running(), r.k.procs.ByPid(InitPid), false)
		})
		return err
	}

	r.vfs.failCreate = true
	expectErr(t, clone(), errno.ErrNoMem)
	check("vfs failure")
	r.vfs.failCreate = false

	r.heap.SetLimit(heapUsed + threadObjSize)
	expectErr(t, clone(), errno.ErrNoMem)
	check("heap exhausted at the list node")
	r.heap.SetLimit(0)

	// Leave room for the stack region and the kernel stack but not the TLS copy.
	var hold []mem.FrameNo
	for r.frames.FreeFrames() > 2 {
		f, _ := r.frames.Allocate()
		hold = append(hold, f)
	}
	freeFrames = r.frames.FreeFrames()
	expectErr(t, clone(), errno.ErrNoMem)
	check("no frames for tls")
	for _, f := range hold {
		r.frames.Free(f)
	}

	th := r.clone(t)
	if th.TLSRegion() == mem.NoRegion {
		t.Fatal("expected the TLS region to be cloned")
	}
	if size, _ := r.vm.RegionSize(0, th.TLSRegion()); size != 2*mem.PageSize {
		t.Fatalf("expected a TLS region of %d bytes, got %d", 2*mem.PageSize, size)
	}
}

func TestCloneCopiesThreadState(t *testing.T) {
	r := newRig(t, Config{})
	r.k.Interrupt(func() {
		init := r.k.threads.Running()
		init.Regs.IP = 0x4242
		init.FPU = &FPUState{7}
		if err := r.k.sigs.SetHandler(init, SigUser1, 0x99); err != nil {
			t.Fatalf("SetHandler: %v", err)
		}
	})
	th := r.clone(t)
	r.k.Interrupt(func() {
		init := r.k.threads.Running()
		if th.Regs.IP != 0x4242 {
			t.Errorf("expected IP 0x4242, got %#x", th.Regs.IP)
		}
		if th.FPU == nil || th.FPU == init.FPU || th.FPU[0] != 7 {
			t.Error("expected an independent copy of the FPU state")
		}
		if addr, ok := r.k.sigs.Handler(th, SigUser1); !ok || addr != 0x99 {
			t.Errorf("expected copied handler 0x99, got %#x, %v", addr, ok)
		}
		if th.KernelStack() == init.KernelStack() || th.KernelStack() == mem.NoFrame {
			t.Errorf("expected an own kernel stack, got %d", th.KernelStack())
		}
		if th.StackRegion() == mem.NoRegion {
			t.Error("expected a user stack region")
		}
	})
}

func TestThreadTableSetReadyHonoursIgnoreSignals(t *testing.T) {
	r := newRig(t, Config{})
	th := r.clone(t)
	r.k.Interrupt(func() {
		th.ignoreSignals = true
		r.k.threads.SetReady(th.Tid())
		if th.State() != StateBlocked {
			t.Errorf("expected blocked, got %s", th.State())
		}
		th.ignoreSignals = false
		r.k.threads.SetReady(th.Tid())
		if th.State() != StateReady {
			t.Errorf("expected ready, got %s", th.State())
		}
		if err := r.k.threads.SetReady(999); err != errno.ErrInvalidTid {
			t.Errorf("expected %v, got %v", errno.ErrInvalidTid, err)
		}
	})
}

func TestKillIdlePanics(t *testing.T) {
	r := newRig(t, Config{})
	expectPanic(t, func() { r.k.threads.Kill(r.k.threads.Idle()) })
}
