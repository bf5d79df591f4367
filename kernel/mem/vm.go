package mem

import (
	"sort"

	"gvisor.dev/gvisor/pkg/sync"

	"nanokern/kernel/errno"
)

// SpaceID identifies an address space. The task core uses the pid.
type SpaceID uint32

// RegionID identifies a region inside an address space.
type RegionID int

// NoRegion marks the absence of a region.
const NoRegion RegionID = -1

// RegionKind is the purpose of a region.
type RegionKind uint8

const (
	RegText RegionKind = iota + 1
	RegData
	RegStack
	RegTLS
)

func (k RegionKind) String() string {
	switch k {
	case RegText:
		return "text"
	case RegData:
		return "data"
	case RegStack:
		return "stack"
	case RegTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// RegionInfo describes a region for diagnostics.
type RegionInfo struct {
	ID     RegionID
	Kind   RegionKind
	Size   uintptr
	Frames int
}

type region struct {
	kind   RegionKind
	size   uintptr
	frames []FrameNo
}

type space struct {
	pagedir FrameNo
	kstack  FrameNo
	regions map[RegionID]*region
	next    RegionID
}

// VM keeps the region tables of all address spaces.
type VM struct {
	mu     sync.Mutex
	frames *Frames
	spaces map[SpaceID]*space
}

// NewVM returns a region table backed by frames.
func NewVM(frames *Frames) *VM {
	return &VM{frames: frames, spaces: make(map[SpaceID]*space)}
}

func pagesFor(size uintptr) int {
	return int((size + PageSize - 1) / PageSize)
}

// CreateSpace allocates a page directory for id.
func (vm *VM) CreateSpace(id SpaceID) (FrameNo, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.createLocked(id)
}

func (vm *VM) createLocked(id SpaceID) (FrameNo, error) {
	if _, ok := vm.spaces[id]; ok {
		return NoFrame, errno.ErrInvalidArgs
	}
	pd, err := vm.frames.Allocate()
	if err != nil {
		return NoFrame, err
	}
	vm.spaces[id] = &space{pagedir: pd, kstack: NoFrame, regions: make(map[RegionID]*region)}
	return pd, nil
}

// CloneSpace creates dst as a copy of src. Every region of src gets its own
// frames in dst.
func (vm *VM) CloneSpace(src, dst SpaceID) (FrameNo, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	s, ok := vm.spaces[src]
	if !ok {
		return NoFrame, errno.ErrInvalidPid
	}
	pd, err := vm.createLocked(dst)
	if err != nil {
		return NoFrame, err
	}
	d := vm.spaces[dst]
	for _, id := range sortedRegionIDs(s) {
		r := s.regions[id]
		nr, err := vm.newRegion(r.kind, r.size)
		if err != nil {
			vm.destroyLocked(dst)
			return NoFrame, err
		}
		d.regions[id] = nr
	}
	d.next = s.next
	return pd, nil
}

// DestroySpace frees all regions and the page directory of id.
func (vm *VM) DestroySpace(id SpaceID) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.destroyLocked(id)
}

func (vm *VM) destroyLocked(id SpaceID) {
	s, ok := vm.spaces[id]
	if !ok {
		return
	}
	for rid, r := range s.regions {
		vm.freeRegion(r)
		delete(s.regions, rid)
	}
	vm.frames.Free(s.pagedir)
	delete(vm.spaces, id)
}

func (vm *VM) newRegion(kind RegionKind, size uintptr) (*region, error) {
	r := &region{kind: kind, size: size}
	for i := 0; i < pagesFor(size); i++ {
		f, err := vm.frames.Allocate()
		if err != nil {
			vm.freeRegion(r)
			return nil, err
		}
		r.frames = append(r.frames, f)
	}
	return r, nil
}

func (vm *VM) freeRegion(r *region) {
	for _, f := range r.frames {
		vm.frames.Free(f)
	}
	r.frames = nil
}

// AddRegion adds a region of size bytes to id.
func (vm *VM) AddRegion(id SpaceID, size uintptr, kind RegionKind) (RegionID, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, ok := vm.spaces[id]
	if !ok {
		return NoRegion, errno.ErrInvalidPid
	}
	r, err := vm.newRegion(kind, size)
	if err != nil {
		return NoRegion, err
	}
	rid := s.next
	s.next++
	s.regions[rid] = r
	return rid, nil
}

// RemoveRegion removes one region of id.
func (vm *VM) RemoveRegion(id SpaceID, rid RegionID) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, ok := vm.spaces[id]
	if !ok {
		return
	}
	if r, ok := s.regions[rid]; ok {
		vm.freeRegion(r)
		delete(s.regions, rid)
	}
}

// RegionSize returns the size of a region.
func (vm *VM) RegionSize(id SpaceID, rid RegionID) (uintptr, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, ok := vm.spaces[id]
	if !ok {
		return 0, false
	}
	r, ok := s.regions[rid]
	if !ok {
		return 0, false
	}
	return r.size, true
}

// RemoveRegions removes every region of id, optionally keeping stacks.
func (vm *VM) RemoveRegions(id SpaceID, keepStacks bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, ok := vm.spaces[id]
	if !ok {
		return
	}
	for rid, r := range s.regions {
		if keepStacks && r.kind == RegStack {
			continue
		}
		vm.freeRegion(r)
		delete(s.regions, rid)
	}
}

// MapKernelStack records f as the frame mapped at the kernel stack address of id.
func (vm *VM) MapKernelStack(id SpaceID, f FrameNo) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if s, ok := vm.spaces[id]; ok {
		s.kstack = f
	}
}

// KernelStack returns the frame mapped at the kernel stack address of id.
func (vm *VM) KernelStack(id SpaceID) FrameNo {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if s, ok := vm.spaces[id]; ok {
		return s.kstack
	}
	return NoFrame
}

// Regions lists the regions of id ordered by region id.
func (vm *VM) Regions(id SpaceID) []RegionInfo {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, ok := vm.spaces[id]
	if !ok {
		return nil
	}
	var out []RegionInfo
	for _, rid := range sortedRegionIDs(s) {
		r := s.regions[rid]
		out = append(out, RegionInfo{ID: rid, Kind: r.kind, Size: r.size, Frames: len(r.frames)})
	}
	return out
}

// OwnFrames returns the number of frames used by id including its page directory.
func (vm *VM) OwnFrames(id SpaceID) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	s, ok := vm.spaces[id]
	if !ok {
		return 0
	}
	n := 1
	for _, r := range s.regions {
		n += len(r.frames)
	}
	return n
}

func sortedRegionIDs(s *space) []RegionID {
	ids := make([]RegionID, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
