package task

// Scheduler is a round-robin scheduler over one FIFO ready queue. The idle
// thread is never queued; Perform falls back to it when the queue is empty.
type Scheduler struct {
	k          *Kernel
	head, tail *Thread
	n          int
}

func (s *Scheduler) enqueue(t *Thread) {
	if t.queued || t == s.k.threads.idle {
		return
	}
	t.prev = s.tail
	t.next = nil
	if s.tail != nil {
		s.tail.next = t
	} else {
		s.head = t
	}
	s.tail = t
	t.queued = true
	s.n++
}

func (s *Scheduler) dequeue(t *Thread) {
	if !t.queued {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		s.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		s.tail = t.prev
	}
	t.prev, t.next = nil, nil
	t.queued = false
	s.n--
}

// Perform removes and returns the head of the ready queue, or the idle thread
// if the queue is empty.
func (s *Scheduler) Perform() *Thread {
	t := s.head
	if t == nil {
		return s.k.threads.idle
	}
	s.dequeue(t)
	return t
}

// SetReady makes t runnable. Making the running thread ready is a kernel bug.
func (s *Scheduler) SetReady(t *Thread) {
	if t == s.k.threads.cur {
		Panic("thread %d: set ready while running", t.tid)
	}
	s.makeReady(t)
}

func (s *Scheduler) makeReady(t *Thread) {
	if t == s.k.threads.idle {
		t.state = StateReady
		return
	}
	switch t.state {
	case StateRunning, StateBlocked:
		s.enqueue(t)
		t.state = StateReady
	case StateBlockedSusp:
		t.state = StateReadySusp
	}
}

// SetBlocked blocks t. The running thread must switch away afterwards.
func (s *Scheduler) SetBlocked(t *Thread) {
	switch t.state {
	case StateReady:
		s.dequeue(t)
		t.state = StateBlocked
	case StateRunning:
		t.state = StateBlocked
	case StateReadySusp:
		t.state = StateBlockedSusp
	}
}

// SetSuspended suspends or resumes t. A suspended thread keeps whether it was
// ready or blocked but is never picked.
func (s *Scheduler) SetSuspended(t *Thread, suspend bool) {
	if suspend {
		switch t.state {
		case StateReady:
			s.dequeue(t)
			t.state = StateReadySusp
		case StateBlocked:
			t.state = StateBlockedSusp
		case StateZombie:
			t.state = StateZombieSusp
		}
		return
	}
	switch t.state {
	case StateReadySusp:
		s.enqueue(t)
		t.state = StateReady
	case StateBlockedSusp:
		t.state = StateBlocked
	case StateZombieSusp:
		t.state = StateZombie
	}
}

// wake is the timer and event path: it readies t if it is blocked.
func (s *Scheduler) wake(t *Thread) {
	switch t.state {
	case StateBlocked:
		s.enqueue(t)
		t.state = StateReady
	case StateBlockedSusp:
		t.state = StateReadySusp
	}
}

// RemoveThread takes t out of the ready queue.
func (s *Scheduler) RemoveThread(t *Thread) {
	s.dequeue(t)
}

// ReadyCount returns the length of the ready queue.
func (s *Scheduler) ReadyCount() int { return s.n }

// Ready returns the ready queue in order.
func (s *Scheduler) Ready() []Tid {
	out := make([]Tid, 0, s.n)
	for t := s.head; t != nil; t = t.next {
		out = append(out, t.tid)
	}
	return out
}
