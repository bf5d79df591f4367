package mem

import (
	"gvisor.dev/gvisor/pkg/sync"

	"nanokern/kernel/errno"
)

// TextBase is the address the text region of every program starts at.
const TextBase uintptr = 0x1000

// Loader maps program images into address spaces.
type Loader struct {
	vm *VM

	mu     sync.Mutex
	images map[string][]byte
}

// NewLoader returns a loader mapping into vm.
func NewLoader(vm *VM) *Loader {
	return &Loader{vm: vm, images: make(map[string][]byte)}
}

// Register makes image available under path.
func (l *Loader) Register(path string, image []byte) {
	l.mu.Lock()
	l.images[path] = image
	l.mu.Unlock()
}

// Load maps image (or the image registered for path, if image is nil) as a text
// and a data region of id and returns the entry point.
func (l *Loader) Load(id SpaceID, path string, image []byte) (uintptr, error) {
	if image == nil {
		l.mu.Lock()
		img, ok := l.images[path]
		l.mu.Unlock()
		if !ok {
			return 0, errno.ErrInvalidFile
		}
		image = img
	}
	if len(image) == 0 {
		return 0, errno.ErrInvalidArgs
	}

	text, err := l.vm.AddRegion(id, uintptr(len(image)), RegText)
	if err != nil {
		return 0, err
	}
	if _, err := l.vm.AddRegion(id, PageSize, RegData); err != nil {
		l.vm.RemoveRegion(id, text)
		return 0, err
	}
	log.Debugf("loader: %q mapped into space %d (%d bytes)", path, id, len(image))
	return TextBase, nil
}
