package task

import (
	"testing"
	"time"

	"nanokern/kernel/errno"
	"nanokern/kernel/mem"
)

const testTimeout = 5 * time.Second

func TestCloneProcessAndCollect(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	freeFrames := r.frames.FreeFrames()

	init.Enter()
	init.Thread().Regs.IP = 0x1234
	init.Proc().SetEnv("HOME", "/")
	initStack := init.Thread().KernelStack()
	init.Leave()

	type childInfo struct {
		tid    Tid
		ip     uintptr
		kstack mem.FrameNo
		home   string
	}
	infoCh := make(chan childInfo, 1)

	within(t, testTimeout, func() {
		pid, err := init.Clone(0, func(c *Context) {
			c.Enter()
			home, _ := c.Proc().GetEnv("HOME")
			infoCh <- childInfo{c.Tid(), c.Thread().Regs.IP, c.Thread().KernelStack(), home}
			c.Leave()
			c.Exit(7)
		})
		if err != nil {
			t.Errorf("Clone: %v", err)
			return
		}
		st, err := init.WaitChild()
		if err != nil {
			t.Errorf("WaitChild: %v", err)
			return
		}
		if st.Pid != pid || st.ExitCode != 7 || st.Signal != SigNone {
			t.Errorf("expected pid %d with code 7, got %+v", pid, st)
		}
		if st.SchedCount == 0 || st.Syscalls == 0 {
			t.Errorf("expected the child's accounting, got %+v", st)
		}
	})

	info := <-infoCh
	if info.tid == InitTid || info.tid == IdleTid {
		t.Fatalf("expected a distinct tid, got %d", info.tid)
	}
	if info.ip != 0x1234 {
		t.Fatalf("expected copied IP 0x1234, got %#x", info.ip)
	}
	if info.kstack == initStack || info.kstack == mem.NoFrame {
		t.Fatalf("expected an own kernel stack frame, got %d", info.kstack)
	}
	if info.home != "/" {
		t.Fatalf("expected the environment to be copied, got %q", info.home)
	}

	r.k.Interrupt(func() {
		if r.k.threads.ByID(info.tid) != nil {
			t.Errorf("expected tid %d to be gone", info.tid)
		}
		if r.k.procs.Count() != 1 {
			t.Errorf("expected only init left, got %d processes", r.k.procs.Count())
		}
	})
	if r.frames.InUse(info.kstack) {
		t.Fatalf("expected kernel stack frame %d to be freed", info.kstack)
	}
	if got := r.frames.FreeFrames(); got != freeFrames {
		t.Fatalf("expected %d free frames, got %d", freeFrames, got)
	}
}

func TestWaitChildWithoutChildren(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	within(t, testTimeout, func() {
		if _, err := init.WaitChild(); err != errno.ErrNoChild {
			t.Errorf("expected %v, got %v", errno.ErrNoChild, err)
		}
	})
}

func TestCloneFailsWithoutPid(t *testing.T) {
	r := newRig(t, Config{MaxProcs: 1})
	init := r.k.InitContext()
	within(t, testTimeout, func() {
		if _, err := init.Clone(0, nil); err != errno.ErrNoFreePid {
			t.Errorf("expected %v, got %v", errno.ErrNoFreePid, err)
		}
	})
}

func TestCloneUnwindsWhenThreadCloneFails(t *testing.T) {
	r := newRig(t, Config{MaxThreads: 2})
	init := r.k.InitContext()
	freeFrames := r.frames.FreeFrames()
	heapUsed := r.heap.Used()
	within(t, testTimeout, func() {
		if _, err := init.Clone(0, nil); err != errno.ErrNoFreeThreads {
			t.Errorf("expected %v, got %v", errno.ErrNoFreeThreads, err)
		}
	})
	if got := r.frames.FreeFrames(); got != freeFrames {
		t.Fatalf("expected %d free frames, got %d", freeFrames, got)
	}
	if got := r.heap.Used(); got != heapUsed {
		t.Fatalf("expected heap use %d, got %d", heapUsed, got)
	}
	if r.k.procs.Count() != 1 {
		t.Fatalf("expected no new process, got %d", r.k.procs.Count())
	}
}

func TestJoinSelfFails(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	within(t, testTimeout, func() {
		if err := init.Join(init.Tid()); err != errno.ErrInvalidTid {
			t.Errorf("expected %v, got %v", errno.ErrInvalidTid, err)
		}
		if err := init.Join(0); err != nil {
			t.Errorf("expected a lone thread to join at once, got %v", err)
		}
	})
}

func TestStartThreadAndJoin(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	ran := make(chan Tid, 2)
	within(t, testTimeout, func() {
		var tids []Tid
		for i := 0; i < 2; i++ {
			tid, err := init.StartThread(func(c *Context) {
				ran <- c.Tid()
				c.Yield()
			})
			if err != nil {
				t.Errorf("StartThread: %v", err)
				return
			}
			tids = append(tids, tid)
		}
		init.Join(tids[0])
		init.Join(0)
	})
	if len(ran) != 2 {
		t.Fatalf("expected both threads to run, got %d", len(ran))
	}
	r.k.Interrupt(func() {
		p := r.k.procs.ByPid(InitPid)
		if got := p.Threads(); len(got) != 1 || got[0] != InitTid {
			t.Errorf("expected only the init thread left, got %v", got)
		}
		if r.k.threads.Count() != 2 {
			t.Errorf("expected init and idle, got %d threads", r.k.threads.Count())
		}
	})
}

func TestSleepingThreadWakesOnTick(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	woke := make(chan uint64, 1)
	within(t, testTimeout, func() {
		tid, err := init.StartThread(func(c *Context) {
			if err := c.Sleep(0); err != nil {
				t.Errorf("Sleep: %v", err)
			}
			woke <- c.Elapsed()
		})
		if err != nil {
			t.Errorf("StartThread: %v", err)
			return
		}
		// Let the thread run into its sleep, then fire the interrupt.
		init.Yield()
		r.k.Timer().Tick()
		init.Join(tid)
	})
	select {
	case ms := <-woke:
		if ms != 1 {
			t.Fatalf("expected wake at 1ms, got %d", ms)
		}
	default:
		t.Fatal("expected the sleeper to wake")
	}
}

func TestKillReparentsAndCollects(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	grandchild := make(chan Pid, 1)
	within(t, testTimeout, func() {
		_, err := init.Clone(0, func(c *Context) {
			pid, err := c.Clone(0, func(c *Context) {
				c.WaitEvent(EvUser1, nil)
				c.Exit(1)
			})
			if err != nil {
				t.Errorf("Clone: %v", err)
			}
			grandchild <- pid
			c.Exit(0)
		})
		if err != nil {
			t.Errorf("Clone: %v", err)
			return
		}
		if _, err := init.WaitChild(); err != nil {
			t.Errorf("WaitChild: %v", err)
			return
		}
		gc := <-grandchild

		init.Enter()
		p := r.k.procs.ByPid(gc)
		if p == nil || p.Parent() != InitPid {
			t.Errorf("expected %d to be reparented to init", gc)
		}
		init.Leave()

		if err := init.Kill(gc); err != nil {
			t.Errorf("Kill: %v", err)
			return
		}
		st, err := init.WaitChild()
		if err != nil {
			t.Errorf("WaitChild: %v", err)
			return
		}
		if st.Pid != gc || st.Signal != SigKill {
			t.Errorf("expected %d killed, got %+v", gc, st)
		}
	})
	r.k.Interrupt(func() {
		if r.k.procs.Count() != 1 || r.k.threads.Count() != 2 {
			t.Errorf("expected only init and idle, got %d processes and %d threads", r.k.procs.Count(), r.k.threads.Count())
		}
		if len(r.vfs.released) != 2 {
			t.Errorf("expected both processes to be released, got %v", r.vfs.released)
		}
	})
}

func TestMutexBlocksContender(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	order := make(chan string, 2)
	within(t, testTimeout, func() {
		tid, err := init.StartThread(func(c *Context) {
			c.Enter()
			c.Proc().Mutex(LockRegions).Lock()
			order <- "thread"
			c.Proc().Mutex(LockRegions).Unlock()
			c.Leave()
		})
		if err != nil {
			t.Errorf("StartThread: %v", err)
			return
		}

		init.Enter()
		init.Proc().Mutex(LockRegions).Lock()
		init.Leave()

		// The thread runs into the held mutex and blocks.
		init.Yield()
		order <- "init"

		init.Enter()
		init.Proc().Mutex(LockRegions).Unlock()
		init.Leave()
		init.Join(tid)
	})
	if first := <-order; first != "init" {
		t.Fatalf("expected the contender to wait for the owner, got %s first", first)
	}
	if second := <-order; second != "thread" {
		t.Fatalf("expected the contender to get the mutex, got %s", second)
	}
}

func TestExecReplacesImage(t *testing.T) {
	r := newRig(t, Config{})
	init := r.k.InitContext()
	within(t, testTimeout, func() {
		if err := init.Exec("/bin/prog", []string{"prog", "-v"}, make([]byte, 100)); err != nil {
			t.Errorf("Exec: %v", err)
			return
		}
		init.Enter()
		p := init.Proc()
		if p.Command() != "/bin/prog" || p.Entry() != mem.TextBase || init.Thread().Regs.IP != mem.TextBase {
			t.Errorf("expected the new program, got %q at %#x", p.Command(), p.Entry())
		}
		init.Leave()
		if err := init.Exec("/bin/none", nil, nil); err != errno.ErrInvalidFile {
			t.Errorf("expected %v, got %v", errno.ErrInvalidFile, err)
		}
	})
}

func TestFdTable(t *testing.T) {
	r := newRig(t, Config{})
	r.k.Interrupt(func() {
		p := r.k.procs.ByPid(InitPid)
		for i := 0; i < MaxFdCount; i++ {
			fd, err := p.AssocFd(FileNo(100 + i))
			if err != nil || fd != i {
				t.Fatalf("expected fd %d, got %d, %v", i, fd, err)
			}
		}
		if _, err := p.AssocFd(500); err != errno.ErrMaxFds {
			t.Fatalf("expected %v, got %v", errno.ErrMaxFds, err)
		}
		if f, err := p.UnassocFd(3); err != nil || f != 103 {
			t.Fatalf("expected file 103, got %d, %v", f, err)
		}
		if fd, _ := p.GetFreeFd(); fd != 3 {
			t.Fatalf("expected fd 3 to be free, got %d", fd)
		}
		if _, err := p.FileOf(3); err != errno.ErrInvalidFd {
			t.Fatalf("expected %v, got %v", errno.ErrInvalidFd, err)
		}
		if p.Spin(LockFds).Held() {
			t.Fatal("expected the fd lock to be released")
		}
	})
}

func TestMemoryAccountingKeepsPeaks(t *testing.T) {
	r := newRig(t, Config{})
	r.k.Interrupt(func() {
		p := r.k.procs.ByPid(InitPid)
		own, _, _ := p.MemUsage()
		p.AddOwn(5)
		p.AddOwn(-5)
		p.AddSwap(2)
		peakOwn, _, peakSwap := p.PeakUsage()
		if peakOwn != own+5 || peakSwap != 2 {
			t.Fatalf("expected peaks %d/2, got %d/%d", own+5, peakOwn, peakSwap)
		}
		if total, _, _ := r.k.procs.MemUsage(); total != own {
			t.Fatalf("expected total %d, got %d", own, total)
		}
	})
}
