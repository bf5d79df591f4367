// Package mem provides the memory collaborators of the task core: a kernel heap
// budget, a bounded page-frame allocator, per-process region tables and a
// program image loader.
package mem

import (
	"github.com/op/go-logging"
	"gvisor.dev/gvisor/pkg/sync"

	"nanokern/kernel/errno"
)

var log = logging.MustGetLogger("mem")

// PageSize is the size of one frame in bytes.
const PageSize = 4096

// Heap is a byte budget for kernel objects.
//
// Kernel objects are ordinary Go values; the budget only decides whether an
// allocation is allowed, so that exhaustion paths behave like a real kernel heap.
type Heap struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewHeap returns a heap with the given budget. A limit <= 0 means unlimited.
func NewHeap(limit int) *Heap {
	return &Heap{limit: limit}
}

// Alloc reserves n bytes.
func (h *Heap) Alloc(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && h.used+n > h.limit {
		log.Debugf("heap: alloc %d failed (%d/%d used)", n, h.used, h.limit)
		return errno.ErrNoMem
	}
	h.used += n
	return nil
}

// Free releases n bytes.
func (h *Heap) Free(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used -= n
	if h.used < 0 {
		panic("mem: heap underflow")
	}
}

// Used returns the number of reserved bytes.
func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// SetLimit changes the budget. Existing reservations are kept.
func (h *Heap) SetLimit(limit int) {
	h.mu.Lock()
	h.limit = limit
	h.mu.Unlock()
}
