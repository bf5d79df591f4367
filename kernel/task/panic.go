package task

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicInfo contains details about a kernel panic.
type PanicInfo struct {
	Tid     Tid
	Message string
	Stack   []byte
}

// KernelPanic is the value Panic panics with.
type KernelPanic string

func (p KernelPanic) Error() string { return "kernel panic: " + string(p) }

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(PanicInfo)

	// panicTid is the thread running when the kernel panicked.
	panicTid atomic.Uint32
)

// InPanicMode reports whether the kernel has panicked.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide panic handler.
//
// The handler is invoked at most once (on the first panic). It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

// Panic halts the kernel. It is used where no consistent state is left to
// continue in, such as failing to create the first thread.
func Panic(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Criticalf("panic: %s", msg)
	triggerPanic(PanicInfo{Tid: Tid(panicTid.Load()), Message: msg})
	panic(KernelPanic(msg))
}

func triggerPanic(info PanicInfo) {
	panicOnce.Do(func() {
		panicActive.Store(true)
		info.Stack = debug.Stack()
		if v := panicHandler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}
