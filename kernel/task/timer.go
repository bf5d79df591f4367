package task

import "nanokern/kernel/errno"

// Programmable interval timer.
const (
	pitBase      = 1193182
	pitCtrlPort  = 0x43
	pitChan0Port = 0x40

	pitCtrlCnt0   = 0x00
	pitCtrlRWLoHi = 0x30
	pitCtrlMode2  = 0x04
	pitCtrlBin16  = 0x00
)

type listener struct {
	pid  Pid
	tid  Tid
	time uint64
}

// Timer counts elapsed milliseconds, wakes sleeping threads and preempts the
// running thread when its time slice is used up.
type Timer struct {
	k *Kernel

	freq        int
	slice       uint64
	elapsed     uint64
	lastResched uint64
	ticks       uint64

	listeners []listener
}

// Init programs channel 0 of the PIT to fire freq times per second and
// creates the listener list. Running out of memory here is fatal.
func (tm *Timer) Init(freq int, sliceMs uint64) {
	tm.freq = freq
	tm.slice = sliceMs

	div := pitBase / freq
	tm.k.ports.OutByte(pitCtrlPort, pitCtrlCnt0|pitCtrlRWLoHi|pitCtrlMode2|pitCtrlBin16)
	tm.k.ports.OutByte(pitChan0Port, uint8(div&0xFF))
	tm.k.ports.OutByte(pitChan0Port, uint8(div>>8))

	if err := tm.k.heap.Alloc(listHeaderBytes); err != nil {
		Panic("not enough mem for timer-listener")
	}
}

// Elapsed returns the milliseconds since boot.
func (tm *Timer) Elapsed() uint64 { return tm.elapsed }

// Ticks returns the number of timer interrupts handled.
func (tm *Timer) Ticks() uint64 { return tm.ticks }

// Listeners returns the number of pending wakeups.
func (tm *Timer) Listeners() int { return len(tm.listeners) }

// SleepFor blocks tid for at least ms milliseconds. A sleep of zero ends at
// the next tick. The caller switches away if tid is the running thread.
func (tm *Timer) SleepFor(tid Tid, ms uint32) error {
	t := tm.k.threads.ByID(tid)
	if t == nil || t == tm.k.threads.idle {
		return errno.ErrInvalidTid
	}
	if err := tm.k.heap.Alloc(listenerSize); err != nil {
		return err
	}
	tm.listeners = append(tm.listeners, listener{pid: t.pid, tid: tid, time: tm.elapsed + uint64(ms)})
	tm.k.sched.SetBlocked(t)
	return nil
}

// RemoveThread drops the pending wakeups of tid.
func (tm *Timer) RemoveThread(tid Tid) {
	kept := tm.listeners[:0]
	for _, l := range tm.listeners {
		if l.tid == tid {
			tm.k.heap.Free(listenerSize)
			continue
		}
		kept = append(kept, l)
	}
	tm.listeners = kept
}

// Tick is the timer interrupt.
func (tm *Timer) Tick() {
	tm.k.mu.Lock()
	tm.onTick()
	tm.k.mu.Unlock()
}

func (tm *Timer) onTick() {
	tm.ticks++
	tm.elapsed += uint64(1000 / tm.freq)

	woke := false
	kept := tm.listeners[:0]
	for _, l := range tm.listeners {
		if l.time > tm.elapsed {
			kept = append(kept, l)
			continue
		}
		if t := tm.k.threads.ByID(l.tid); t != nil {
			tm.k.sched.wake(t)
		}
		tm.k.heap.Free(listenerSize)
		woke = true
	}
	tm.listeners = kept

	if woke || tm.elapsed-tm.lastResched >= tm.slice {
		tm.lastResched = tm.elapsed
		tm.k.reschedule()
	}
}
