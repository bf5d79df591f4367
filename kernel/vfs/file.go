package vfs

import (
	"nanokern/kernel/errno"
	"nanokern/kernel/task"
)

// Side tells which end of a client connection a file is.
type Side uint8

const (
	SideClient Side = iota + 1
	SideDriver
)

func (s Side) String() string {
	switch s {
	case SideClient:
		return "client"
	case SideDriver:
		return "driver"
	default:
		return "none"
	}
}

type openFile struct {
	no   task.FileNo
	node NodeNo
	pid  task.Pid
	side Side
	refs int
}

func (v *VFS) openLocked(pid task.Pid, node NodeNo, side Side) (task.FileNo, error) {
	n := len(v.files)
	for i := 0; i < n; i++ {
		idx := (v.nextFile + i) % n
		if v.files[idx] == nil {
			v.nextFile = (idx + 1) % n
			f := &openFile{no: task.FileNo(idx), node: node, pid: pid, side: side, refs: 1}
			v.files[idx] = f
			return f.no, nil
		}
	}
	return task.NoFile, errno.ErrNoMem
}

func (v *VFS) fileLocked(file task.FileNo) (*openFile, error) {
	if file < 0 || int(file) >= len(v.files) || v.files[file] == nil {
		return nil, errno.ErrInvalidFile
	}
	return v.files[file], nil
}

// FileInfo describes an open file.
type FileInfo struct {
	No     task.FileNo
	Node   NodeNo
	Driver NodeNo
	Pid    task.Pid
	Side   Side
	Refs   int
	// Peer reports whether the other side is still there: the driver for a
	// client side file, an open client for a driver side file.
	Peer bool
}

// File returns what file is open on.
func (v *VFS) File(file task.FileNo) (FileInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, err := v.fileLocked(file)
	if err != nil {
		return FileInfo{}, err
	}
	info := FileInfo{No: f.no, Node: f.node, Driver: NoNode, Pid: f.pid, Side: f.side, Refs: f.refs}
	if c, ok := v.clients[f.node]; ok {
		info.Driver = c.driver
		if f.side == SideClient {
			info.Peer = c.driver != NoNode
		} else {
			info.Peer = c.clientOpen > 0
		}
	}
	return info, nil
}

// OpenFiles returns the number of open files.
func (v *VFS) OpenFiles() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, f := range v.files {
		if f != nil {
			n++
		}
	}
	return n
}

// IncRefs adds a reference to file, as done when a descriptor table is
// duplicated.
func (v *VFS) IncRefs(file task.FileNo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, err := v.fileLocked(file); err == nil {
		f.refs++
	}
}

// CloseFile drops one reference to file. Closing the last driver side
// reference releases the claim on the client; a client node goes away once
// neither side has it open. The result names the client node whose other side
// should notice, and asks for drivers to be woken when the released client
// still has work queued for them.
func (v *VFS) CloseFile(pid task.Pid, file task.FileNo) task.FSWake {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, err := v.fileLocked(file)
	if err != nil {
		log.Warningf("process %d closes unknown file %d", pid, file)
		return task.FSWake{}
	}
	f.refs--
	if f.refs > 0 {
		return task.FSWake{}
	}
	v.files[file] = nil

	c, ok := v.clients[f.node]
	if !ok {
		return task.FSWake{}
	}
	w := task.FSWake{Nodes: []any{c.no}}
	switch f.side {
	case SideDriver:
		c.driverOpen--
		if c.driverOpen == 0 {
			c.claimed = false
			w.Clients = c.driver != NoNode && c.toDriver.len() > 0
		}
	case SideClient:
		c.clientOpen--
	}
	if c.clientOpen == 0 && c.driverOpen == 0 {
		v.removeClientLocked(c)
		w.Clients = false
	}
	return w
}

// Send queues a message on file for the other side. It returns the client
// node so the caller can wake whoever waits on it.
func (v *VFS) Send(file task.FileNo, id uint32, data []byte) (NodeNo, Side, error) {
	msg, ok := NewMessage(id, data)
	if !ok {
		return NoNode, 0, errno.ErrMsgTooLarge
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	f, err := v.fileLocked(file)
	if err != nil {
		return NoNode, 0, err
	}
	c, ok := v.clients[f.node]
	if !ok {
		return NoNode, 0, errno.ErrInvalidNode
	}
	box := &c.toClient
	if f.side == SideClient {
		if c.driver == NoNode {
			return NoNode, 0, errno.ErrNoDriver
		}
		box = &c.toDriver
	}
	if !box.push(msg) {
		return NoNode, 0, errno.ErrQueueFull
	}
	return c.no, f.side, nil
}

// Receive takes the next message for the side file is open on.
func (v *VFS) Receive(file task.FileNo) (Message, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, err := v.fileLocked(file)
	if err != nil {
		return Message{}, err
	}
	c, ok := v.clients[f.node]
	if !ok {
		return Message{}, errno.ErrInvalidNode
	}
	box := &c.toDriver
	if f.side == SideClient {
		box = &c.toClient
	}
	msg, ok := box.pop()
	if !ok {
		return Message{}, errno.ErrNoMessage
	}
	return msg, nil
}

// Pending returns the number of queued messages towards the driver and
// towards the client of a client node.
func (v *VFS) Pending(client NodeNo) (toDriver, toClient int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.clients[client]; ok {
		return c.toDriver.len(), c.toClient.len()
	}
	return 0, 0
}

// CreateThread adds tid to the thread directory.
func (v *VFS) CreateThread(tid task.Tid) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.threads[tid]; ok {
		return errno.ErrInvalidTid
	}
	v.threads[tid] = struct{}{}
	return nil
}

// RemoveThread removes tid from the thread directory.
func (v *VFS) RemoveThread(tid task.Tid) {
	v.mu.Lock()
	delete(v.threads, tid)
	v.mu.Unlock()
}

// ReleaseProcess removes the drivers registered by pid. The clients of those
// drivers are returned so their receivers see the driver is gone.
func (v *VFS) ReleaseProcess(pid task.Pid) task.FSWake {
	clients := v.RemoveDriversOf(pid)
	var w task.FSWake
	for _, cno := range clients {
		w.Nodes = append(w.Nodes, cno)
	}
	return w
}

// HasThread reports whether tid is in the thread directory.
func (v *VFS) HasThread(tid task.Tid) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.threads[tid]
	return ok
}

// Threads returns the number of entries in the thread directory.
func (v *VFS) Threads() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.threads)
}
