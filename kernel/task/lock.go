package task

import "nanokern/kernel/errno"

// SpinDomain names a short critical section of a process. A spinlock must
// never be held across a thread switch.
type SpinDomain uint8

const (
	LockEnv SpinDomain = iota
	LockFds
	LockPorts
	spinDomains
)

// MutexDomain names a sleeping lock of a process. Waiters block.
type MutexDomain uint8

const (
	LockRegions MutexDomain = iota
	LockProg
	mutexDomains
)

var spinNames = [...]string{"env", "fds", "ports"}
var mutexNames = [...]string{"regions", "prog"}

func (d SpinDomain) String() string  { return spinNames[d] }
func (d MutexDomain) String() string { return mutexNames[d] }

// SpinLock guards a short critical section.
type SpinLock struct {
	k      *Kernel
	name   string
	holder *Thread
}

// Lock takes l for the running thread. Taking a held spinlock can only mean
// a deadlock on one CPU.
func (l *SpinLock) Lock() {
	if l.holder != nil {
		Panic("spinlock %s: already held by thread %d", l.name, l.holder.tid)
	}
	t := l.k.threads.cur
	l.holder = t
	t.spinHeld++
}

// Unlock releases l.
func (l *SpinLock) Unlock() {
	if l.holder == nil {
		Panic("spinlock %s: unlock of free lock", l.name)
	}
	l.holder.spinHeld--
	l.holder = nil
}

// Held reports whether l is taken.
func (l *SpinLock) Held() bool { return l.holder != nil }

// Mutex is a sleeping lock.
type Mutex struct {
	k     *Kernel
	name  string
	owner *Thread
}

// Lock takes m for the running thread, blocking while another thread owns it.
func (m *Mutex) Lock() {
	t := m.k.threads.cur
	for m.owner != nil {
		if m.owner == t {
			Panic("mutex %s: recursive lock by thread %d", m.name, t.tid)
		}
		m.k.events.Wait(t, EvMutex, m)
		m.k.switchNoSigs(t)
	}
	m.owner = t
}

// TryLock takes m if it is free.
func (m *Mutex) TryLock() bool {
	if m.owner != nil {
		return false
	}
	m.owner = m.k.threads.cur
	return true
}

// Unlock releases m and wakes its waiters.
func (m *Mutex) Unlock() {
	if m.owner == nil {
		Panic("mutex %s: unlock of free lock", m.name)
	}
	m.owner = nil
	m.k.events.Wakeup(EvMutex, m)
}

// Owner returns the owning thread id.
func (m *Mutex) Owner() (Tid, bool) {
	if m.owner == nil {
		return InvalidTid, false
	}
	return m.owner.tid, true
}

// Request looks up pid and takes its mutex of domain d.
func (pt *ProcTable) Request(pid Pid, d MutexDomain) (*Proc, error) {
	p := pt.ByPid(pid)
	if p == nil {
		return nil, errno.ErrInvalidPid
	}
	p.Mutex(d).Lock()
	return p, nil
}

// Release releases the mutex of domain d of p.
func (pt *ProcTable) Release(p *Proc, d MutexDomain) {
	p.Mutex(d).Unlock()
}

// RequestSpin looks up pid and takes its spinlock of domain d.
func (pt *ProcTable) RequestSpin(pid Pid, d SpinDomain) (*Proc, error) {
	p := pt.ByPid(pid)
	if p == nil {
		return nil, errno.ErrInvalidPid
	}
	p.Spin(d).Lock()
	return p, nil
}

// ReleaseSpin releases the spinlock of domain d of p.
func (pt *ProcTable) ReleaseSpin(p *Proc, d SpinDomain) {
	p.Spin(d).Unlock()
}
