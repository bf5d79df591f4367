package task

import (
	"fmt"

	"nanokern/kernel/errno"
)

// Signal is an asynchronous notification for a thread.
type Signal uint8

const (
	SigNone Signal = iota
	SigKill
	SigTerm
	SigIntrpt
	SigSegfault
	SigThreadDied
	SigChildTerm
	SigUser1
	SigUser2
	SigCount
)

var sigNames = [...]string{"none", "kill", "term", "intrpt", "segfault", "thread-died", "child-term", "user1", "user2"}

func (s Signal) String() string {
	if int(s) < len(sigNames) {
		return sigNames[s]
	}
	return fmt.Sprintf("sig(%d)", uint8(s))
}

// ignoredByDefault reports whether sig is dropped unless a handler is set.
func (s Signal) ignoredByDefault() bool {
	return s == SigThreadDied || s == SigChildTerm
}

type sigMask uint32

// Signals delivers signals to threads.
type Signals struct {
	k *Kernel
}

// SetHandler installs a handler for sig on t. A zero addr removes it.
func (s *Signals) SetHandler(t *Thread, sig Signal, addr uintptr) error {
	if sig == SigNone || sig >= SigCount || sig == SigKill {
		return errno.ErrInvalidArgs
	}
	if addr == 0 {
		delete(t.handlers, sig)
		return nil
	}
	if t.handlers == nil {
		t.handlers = make(map[Signal]uintptr)
	}
	t.handlers[sig] = addr
	return nil
}

// Handler returns the handler of t for sig.
func (s *Signals) Handler(t *Thread, sig Signal) (uintptr, bool) {
	addr, ok := t.handlers[sig]
	return addr, ok
}

func (s *Signals) cloneHandlers(src, dst *Thread) {
	if len(src.handlers) == 0 {
		return
	}
	dst.handlers = make(map[Signal]uintptr, len(src.handlers))
	for sig, addr := range src.handlers {
		dst.handlers[sig] = addr
	}
}

// Raise makes sig pending for t and wakes t if it is blocked and accepts
// signals.
func (s *Signals) Raise(t *Thread, sig Signal) {
	if sig == SigNone || sig >= SigCount {
		return
	}
	if sig.ignoredByDefault() {
		if _, ok := t.handlers[sig]; !ok {
			return
		}
	}
	t.pending |= 1 << sig
	if !t.ignoreSignals && (t.state == StateBlocked || t.state == StateBlockedSusp) {
		s.k.events.RemoveThread(t)
		s.k.sched.wake(t)
	}
	log.Debugf("signal %s raised for thread %d", sig, t.tid)
}

// AddSignalFor raises sig for the process pid: for the first thread with a
// handler for it, or else for its first thread.
func (s *Signals) AddSignalFor(pid Pid, sig Signal) {
	p := s.k.procs.ByPid(pid)
	if p == nil || len(p.threads) == 0 {
		return
	}
	var target *Thread
	for _, tid := range p.threads {
		t := s.k.threads.ByID(tid)
		if t == nil || t.state == StateZombie {
			continue
		}
		if _, ok := t.handlers[sig]; ok {
			target = t
			break
		}
		if target == nil {
			target = t
		}
	}
	if target != nil {
		s.Raise(target, sig)
	}
}

// HasSignalFor reports whether t has a pending signal.
func (s *Signals) HasSignalFor(t *Thread) bool {
	return t.pending != 0
}

// Take removes and returns the lowest pending signal of t.
func (s *Signals) Take(t *Thread) (Signal, bool) {
	for sig := SigNone + 1; sig < SigCount; sig++ {
		if t.pending&(1<<sig) != 0 {
			t.pending &^= 1 << sig
			return sig, true
		}
	}
	return SigNone, false
}
