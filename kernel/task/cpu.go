package task

import "runtime"

// reschedule puts the running thread back into the ready queue if it is still
// running and switches to the next ready thread.
func (k *Kernel) reschedule() {
	k.reschedules++
	if cur := k.threads.cur; cur.state == StateRunning {
		k.sched.makeReady(cur)
	}
	k.switchTo(k.sched.Perform())
}

func (k *Kernel) switchTo(next *Thread) {
	prev := k.threads.cur
	next.state = StateRunning
	next.Stats.SchedCount++
	k.threads.cur = next
	panicTid.Store(uint32(next.tid))

	if next != prev && next != k.threads.idle {
		if p := k.procs.ByPid(next.pid); p != nil && len(p.threads) > 1 {
			k.vm.MapKernelStack(spaceOf(p), next.kstackFrame)
		}
	}
	k.threads.ReapDead()
	k.cond.Broadcast()
}

// waitRunning parks the calling goroutine until t is the running thread. If t
// is destroyed meanwhile the goroutine exits.
func (k *Kernel) waitRunning(t *Thread) {
	for k.threads.cur != t {
		if t.gone {
			k.exitThread(t)
		}
		k.cond.Wait()
	}
}

func (k *Kernel) exitThread(t *Thread) {
	t.entered = false
	k.mu.Unlock()
	runtime.Goexit()
}

// switchAway switches from t, which is the running thread, and returns once t
// runs again.
func (k *Kernel) switchAway(t *Thread) {
	if t.spinHeld > 0 {
		Panic("thread %d switches while holding %d spinlock(s)", t.tid, t.spinHeld)
	}
	k.reschedule()
	k.waitRunning(t)
}

// switchNoSigs is switchAway with signals unable to wake t.
func (k *Kernel) switchNoSigs(t *Thread) {
	t.ignoreSignals = true
	k.switchAway(t)
	t.ignoreSignals = false
}

// spawn starts the goroutine backing t. It runs entry once t is scheduled and
// exits the thread when entry returns.
func (k *Kernel) spawn(t *Thread, entry func(*Context)) {
	c := &Context{k: k, t: t}
	go func() {
		c.Enter()
		c.Leave()
		if entry != nil {
			entry(c)
		}
		c.Exit(0)
	}()
}
