package task

import (
	"errors"
	"testing"
	"time"

	"nanokern/kernel/errno"
	"nanokern/kernel/mem"
)

type fakeVFS struct {
	threads    map[Tid]bool
	refs       map[FileNo]int
	closed     []FileNo
	released   []Pid
	failCreate bool
}

func newFakeVFS() *fakeVFS {
	return &fakeVFS{threads: make(map[Tid]bool), refs: make(map[FileNo]int)}
}

func (v *fakeVFS) CreateThread(tid Tid) error {
	if v.failCreate {
		return errno.ErrNoMem
	}
	v.threads[tid] = true
	return nil
}

func (v *fakeVFS) RemoveThread(tid Tid) { delete(v.threads, tid) }
func (v *fakeVFS) IncRefs(f FileNo)     { v.refs[f]++ }

func (v *fakeVFS) CloseFile(pid Pid, f FileNo) FSWake {
	v.closed = append(v.closed, f)
	return FSWake{}
}

func (v *fakeVFS) ReleaseProcess(pid Pid) FSWake {
	v.released = append(v.released, pid)
	return FSWake{}
}

type portWrite struct {
	port uint16
	val  uint8
}

type recordPorts struct {
	writes []portWrite
}

func (p *recordPorts) OutByte(port uint16, val uint8) {
	p.writes = append(p.writes, portWrite{port, val})
}

type testRig struct {
	k      *Kernel
	vfs    *fakeVFS
	heap   *mem.Heap
	frames *mem.Frames
	vm     *mem.VM
	ports  *recordPorts
}

func newRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	frames := mem.NewFrames(256)
	vm := mem.NewVM(frames)
	r := &testRig{
		vfs:    newFakeVFS(),
		heap:   mem.NewHeap(0),
		frames: frames,
		vm:     vm,
		ports:  &recordPorts{},
	}
	k, err := New(cfg, Deps{
		Heap:   r.heap,
		Frames: frames,
		VM:     vm,
		Loader: mem.NewLoader(vm),
		VFS:    r.vfs,
		Ports:  r.ports,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.k = k
	return r
}

// clone creates a thread in the init process without a goroutine. Such a
// thread is only ever moved around by the tests themselves.
func (r *testRig) clone(t *testing.T) *Thread {
	t.Helper()
	var th *Thread
	var err error
	r.k.Interrupt(func() {
		p := r.k.procs.ByPid(InitPid)
		th, err = r.k.threads.Clone(r.k.threads.ByID(InitTid), p, false)
		if err == nil {
			p.threads = append(p.threads, th.tid)
			th.state = StateBlocked
		}
	})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	return th
}

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected kernel panic")
		}
		if _, ok := r.(KernelPanic); !ok {
			t.Fatalf("expected KernelPanic, got %T: %v", r, r)
		}
	}()
	fn()
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

// within runs fn on its own goroutine and fails the test if it does not
// finish in time.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out")
	}
}
