// Package app boots the kernel on a HAL: it wires the components together,
// starts the boot programs from init and feeds the timer interrupt.
package app

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	"github.com/samber/do"

	"nanokern/hal"
	"nanokern/internal/klog"
	"nanokern/kernel/console"
	"nanokern/kernel/driver"
	"nanokern/kernel/errno"
	"nanokern/kernel/mem"
	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

var log = logging.MustGetLogger("app")

// System is a booted kernel with its collaborators.
type System struct {
	injector *do.Injector
	cfg      Config

	HAL     hal.HAL
	Kernel  *task.Kernel
	FS      *vfs.VFS
	Drivers *driver.Layer
	Console *console.Console

	started  atomic.Bool
	stopping atomic.Bool
	initDone chan struct{}
}

// New wires a system on h. The calling goroutine becomes the kernel's init
// thread until Start hands it over.
func New(h hal.HAL, cfg Config) (*System, error) {
	cmds, err := cfg.BootCommands()
	if err != nil {
		return nil, err
	}

	i := do.New()
	do.ProvideValue(i, h)
	do.ProvideValue(i, cfg)
	do.Provide(i, newConsole)
	do.Provide(i, newVFS)
	do.Provide(i, newKernel)
	do.Provide(i, newDriverLayer)
	do.Provide(i, newTickFeed)

	cons := do.MustInvoke[*console.Console](i)
	loggers := []hal.Logger{h.Logger()}
	if cfg.Console {
		loggers = append(loggers, cons)
	}
	level := cfg.LogLevel
	if level == "" {
		level = "INFO"
	}
	if err := klog.Setup(level, loggers...); err != nil {
		return nil, err
	}
	installPanicHandler(h)

	s := &System{
		injector: i,
		cfg:      cfg,
		HAL:      h,
		Console:  cons,
		initDone: make(chan struct{}),
	}
	if s.Kernel, err = do.Invoke[*task.Kernel](i); err != nil {
		return nil, err
	}
	s.FS = do.MustInvoke[*vfs.VFS](i)
	s.Drivers = do.MustInvoke[*driver.Layer](i)
	if _, err := do.Invoke[*tickFeed](i); err != nil {
		return nil, err
	}
	log.Infof("system up, %d boot programs", len(cmds))
	return s, nil
}

func newConsole(i *do.Injector) (*console.Console, error) {
	h := do.MustInvoke[hal.HAL](i)
	return console.New(h.Display()), nil
}

func newVFS(i *do.Injector) (*vfs.VFS, error) {
	cfg := do.MustInvoke[Config](i)
	return vfs.New(cfg.MaxFiles), nil
}

func newKernel(i *do.Injector) (*task.Kernel, error) {
	h := do.MustInvoke[hal.HAL](i)
	cfg := do.MustInvoke[Config](i)
	fs := do.MustInvoke[*vfs.VFS](i)

	frames := cfg.Frames
	if frames <= 0 {
		frames = DefaultConfig().Frames
	}
	fa := mem.NewFrames(frames)
	vm := mem.NewVM(fa)
	k, err := task.New(cfg.taskConfig(), task.Deps{
		Heap:   mem.NewHeap(cfg.HeapBytes),
		Frames: fa,
		VM:     vm,
		Loader: mem.NewLoader(vm),
		VFS:    fs,
		Ports:  h.Ports(),
		Cycles: h.Cycles(),
	})
	if err != nil {
		return nil, fmt.Errorf("boot kernel: %w", err)
	}
	return k, nil
}

func newDriverLayer(i *do.Injector) (*driver.Layer, error) {
	return driver.New(do.MustInvoke[*task.Kernel](i), do.MustInvoke[*vfs.VFS](i)), nil
}

// Start runs init on its own goroutine: it starts the boot programs and then
// collects dead children until Shutdown.
func (s *System) Start() {
	if s.started.Swap(true) {
		return
	}
	cmds, _ := s.cfg.BootCommands()
	init := s.Kernel.InitContext()
	go func() {
		defer close(s.initDone)
		for _, args := range cmds {
			pid, err := init.Clone(0, boot(s, args))
			if err != nil {
				log.Errorf("boot %q: %v", args[0], err)
				continue
			}
			log.Infof("started %q as process %d", args[0], pid)
		}
		for {
			st, err := init.WaitChild()
			switch {
			case err == errno.ErrNoChild:
				if s.stopping.Load() {
					return
				}
				init.Sleep(100)
			case err != nil:
				init.TakeSignal()
			default:
				log.Infof("process %d exited: code %d, signal %s, %d syscalls", st.Pid, st.ExitCode, st.Signal, st.Syscalls)
			}
		}
	}()
}

// Step is called once per host frame.
func (s *System) Step() error {
	if s.cfg.Console {
		return s.Console.Flush()
	}
	return nil
}

// Shutdown kills every process but init, waits for init to collect them and
// shuts the components down.
func (s *System) Shutdown() error {
	s.stopping.Store(true)
	k := s.Kernel
	k.Interrupt(func() {
		var pids []task.Pid
		k.Procs().Each(func(p *task.Proc) {
			if p.Pid() != task.InitPid {
				pids = append(pids, p.Pid())
			}
		})
		for _, pid := range pids {
			k.Procs().Terminate(pid, 0, task.SigKill)
		}
	})

	deadline := time.After(2 * time.Second)
wait:
	for s.started.Load() {
		select {
		case <-s.initDone:
			break wait
		case <-deadline:
			log.Warningf("init did not finish")
			break wait
		case <-time.After(time.Millisecond):
			// Keep time going so sleepers and a stuck zombie get scheduled.
			k.Timer().Tick()
		}
	}
	return s.injector.Shutdown()
}
