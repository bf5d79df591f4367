package mem

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/sync"

	"nanokern/kernel/errno"
)

// FrameNo identifies a physical page frame.
type FrameNo uint32

// NoFrame marks the absence of a frame.
const NoFrame FrameNo = ^FrameNo(0)

// Frames is a bounded physical frame allocator.
type Frames struct {
	mu    sync.Mutex
	free  []FrameNo
	inUse []bool
}

// NewFrames returns an allocator managing n frames.
func NewFrames(n int) *Frames {
	f := &Frames{
		free:  make([]FrameNo, 0, n),
		inUse: make([]bool, n),
	}
	// Hand out low frame numbers first.
	for i := n - 1; i >= 0; i-- {
		f.free = append(f.free, FrameNo(i))
	}
	return f
}

// Allocate takes one frame.
func (f *Frames) Allocate() (FrameNo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.free) == 0 {
		return NoFrame, errno.ErrNoMem
	}
	fr := f.free[len(f.free)-1]
	f.free = f.free[:len(f.free)-1]
	f.inUse[fr] = true
	return fr, nil
}

// Free returns a frame to the allocator.
func (f *Frames) Free(fr FrameNo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(fr) >= len(f.inUse) || !f.inUse[fr] {
		panic(fmt.Sprintf("mem: free of unallocated frame %d", fr))
	}
	f.inUse[fr] = false
	f.free = append(f.free, fr)
}

// FreeFrames returns the number of unallocated frames.
func (f *Frames) FreeFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.free)
}

// Total returns the number of managed frames.
func (f *Frames) Total() int {
	return len(f.inUse)
}

// InUse reports whether fr is allocated.
func (f *Frames) InUse(fr FrameNo) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(fr) < len(f.inUse) && f.inUse[fr]
}
