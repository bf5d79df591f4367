package task

import "strings"

// EventMask is a set of events a thread can wait for.
type EventMask uint32

const (
	EvClient EventMask = 1 << iota
	EvReceivedMsg
	EvThreadDied
	EvChildDied
	EvMutex
	EvUser1
)

// EvNone is the empty mask.
const EvNone EventMask = 0

func (m EventMask) String() string {
	if m == EvNone {
		return "none"
	}
	names := []string{"client", "msg", "thread-died", "child-died", "mutex", "user1"}
	var parts []string
	for i, n := range names {
		if m&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// EventTable records which threads wait for which events.
type EventTable struct {
	k       *Kernel
	waiters []*Thread
}

// Wait blocks t until one of mask is signalled for obj. A nil obj matches any
// object. The running thread must switch away afterwards.
func (e *EventTable) Wait(t *Thread, mask EventMask, obj any) {
	if t.events != EvNone {
		e.remove(t)
	}
	t.events = mask
	t.evObj = obj
	e.waiters = append(e.waiters, t)
	e.k.sched.SetBlocked(t)
}

// Wakeup readies every thread waiting for one of mask on obj, in the order
// they started waiting. A nil obj wakes waiters on any object. It returns the
// number of threads woken.
func (e *EventTable) Wakeup(mask EventMask, obj any) int {
	var woken []*Thread
	kept := e.waiters[:0]
	for _, t := range e.waiters {
		if t.events&mask != 0 && (obj == nil || t.evObj == nil || t.evObj == obj) {
			woken = append(woken, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(e.waiters); i++ {
		e.waiters[i] = nil
	}
	e.waiters = kept
	for _, t := range woken {
		t.events = EvNone
		t.evObj = nil
		e.k.sched.wake(t)
	}
	return len(woken)
}

// WakeFS wakes the receivers and drivers named by w.
func (e *EventTable) WakeFS(w FSWake) {
	for _, node := range w.Nodes {
		if node != nil {
			e.Wakeup(EvReceivedMsg, node)
		}
	}
	if w.Clients {
		e.Wakeup(EvClient, nil)
	}
}

// RemoveThread forgets what t waits for. It does not change t's state.
func (e *EventTable) RemoveThread(t *Thread) {
	if t.events == EvNone {
		return
	}
	e.remove(t)
	t.events = EvNone
	t.evObj = nil
}

func (e *EventTable) remove(t *Thread) {
	for i, w := range e.waiters {
		if w == t {
			copy(e.waiters[i:], e.waiters[i+1:])
			e.waiters[len(e.waiters)-1] = nil
			e.waiters = e.waiters[:len(e.waiters)-1]
			return
		}
	}
}

// Waiting returns the ids of the threads waiting for one of mask.
func (e *EventTable) Waiting(mask EventMask) []Tid {
	var out []Tid
	for _, t := range e.waiters {
		if t.events&mask != 0 {
			out = append(out, t.tid)
		}
	}
	return out
}
