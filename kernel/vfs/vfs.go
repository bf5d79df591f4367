// Package vfs is the in-memory virtual file system the task core and the
// driver layer talk to: driver nodes with their pending clients, the open file
// table and the thread directory.
//
// Every exported method takes the VFS lock itself. The VFS never calls back
// into the kernel; waking threads is left to the caller.
package vfs

import (
	"github.com/op/go-logging"
	"gvisor.dev/gvisor/pkg/sync"

	"nanokern/kernel/errno"
	"nanokern/kernel/task"
)

var log = logging.MustGetLogger("vfs")

// DriverFlags are the capabilities a driver registers with.
type DriverFlags uint32

const (
	DrvOpen DriverFlags = 1 << iota
	DrvRead
	DrvWrite
	DrvClose
	DrvTerm
	// DrvFS marks a file system driver. It is never combined with others.
	DrvFS
)

// DrvAll are the general capabilities.
const DrvAll = DrvOpen | DrvRead | DrvWrite | DrvClose | DrvTerm

// Valid reports whether f is exactly DrvFS or a subset of DrvAll.
func (f DriverFlags) Valid() bool {
	return f == DrvFS || f&^DrvAll == 0
}

// NodeNo identifies a node.
type NodeNo int32

// NoNode marks the absence of a node.
const NoNode NodeNo = -1

// DefaultMaxFiles is the default capacity of the open file table.
const DefaultMaxFiles = 1024

type driverNode struct {
	no       NodeNo
	name     string
	owner    task.Pid
	flags    DriverFlags
	readable bool
	clients  []NodeNo
}

type clientNode struct {
	no     NodeNo
	driver NodeNo
	pid    task.Pid
	tid    task.Tid

	toDriver mailbox
	toClient mailbox

	claimed    bool
	clientOpen int
	driverOpen int
}

// VFS is the file system state.
type VFS struct {
	mu sync.Mutex

	nextNode NodeNo
	drivers  map[NodeNo]*driverNode
	byName   map[string]NodeNo
	clients  map[NodeNo]*clientNode

	files    []*openFile
	nextFile int

	threads map[task.Tid]struct{}
}

// New returns an empty VFS whose open file table holds maxFiles files.
func New(maxFiles int) *VFS {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &VFS{
		drivers: make(map[NodeNo]*driverNode),
		byName:  make(map[string]NodeNo),
		clients: make(map[NodeNo]*clientNode),
		files:   make([]*openFile, maxFiles),
		threads: make(map[task.Tid]struct{}),
	}
}

func (v *VFS) allocNode() NodeNo {
	no := v.nextNode
	v.nextNode++
	return no
}

// CreateDriver registers a driver node called name, owned by owner.
func (v *VFS) CreateDriver(owner task.Pid, name string, flags DriverFlags) (NodeNo, error) {
	if name == "" || !flags.Valid() {
		return NoNode, errno.ErrInvalidArgs
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.byName[name]; ok {
		return NoNode, errno.ErrDriverExists
	}
	d := &driverNode{no: v.allocNode(), name: name, owner: owner, flags: flags}
	v.drivers[d.no] = d
	v.byName[name] = d.no
	log.Infof("driver %q registered as node %d by process %d (flags %#x)", name, d.no, owner, uint32(flags))
	return d.no, nil
}

func (v *VFS) ownedDriver(owner task.Pid, id NodeNo) (*driverNode, error) {
	d, ok := v.drivers[id]
	if !ok {
		return nil, errno.ErrInvalidNode
	}
	if d.owner != owner {
		return nil, errno.ErrNotOwner
	}
	return d, nil
}

// RemoveDriver unregisters a driver. Its clients stay until they are closed
// but can no longer be served.
func (v *VFS) RemoveDriver(owner task.Pid, id NodeNo) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, err := v.ownedDriver(owner, id)
	if err != nil {
		return err
	}
	for _, cno := range d.clients {
		if c, ok := v.clients[cno]; ok {
			c.driver = NoNode
		}
	}
	delete(v.drivers, id)
	delete(v.byName, d.name)
	log.Infof("driver %q (node %d) removed", d.name, id)
	return nil
}

// RemoveDriversOf unregisters every driver owned by owner and returns the
// clients they had.
func (v *VFS) RemoveDriversOf(owner task.Pid) []NodeNo {
	v.mu.Lock()
	var ids, clients []NodeNo
	for id, d := range v.drivers {
		if d.owner == owner {
			ids = append(ids, id)
			clients = append(clients, d.clients...)
		}
	}
	v.mu.Unlock()
	for _, id := range ids {
		v.RemoveDriver(owner, id)
	}
	if len(ids) > 0 {
		log.Debugf("released %d drivers of process %d", len(ids), owner)
	}
	return clients
}

// SetDataReadable sets whether the driver has data for its clients.
func (v *VFS) SetDataReadable(owner task.Pid, id NodeNo, readable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, err := v.ownedDriver(owner, id)
	if err != nil {
		return err
	}
	d.readable = readable
	return nil
}

// DriverInfo describes a driver node.
type DriverInfo struct {
	No       NodeNo
	Name     string
	Owner    task.Pid
	Flags    DriverFlags
	Readable bool
	Clients  int
}

// Driver looks up a driver by name.
func (v *VFS) Driver(name string) (DriverInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.byName[name]
	if !ok {
		return DriverInfo{}, errno.ErrNoDriver
	}
	return v.driverInfo(v.drivers[id]), nil
}

// Drivers lists all drivers ordered by node number.
func (v *VFS) Drivers() []DriverInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []DriverInfo
	for no := NodeNo(0); no < v.nextNode; no++ {
		if d, ok := v.drivers[no]; ok {
			out = append(out, v.driverInfo(d))
		}
	}
	return out
}

func (v *VFS) driverInfo(d *driverNode) DriverInfo {
	return DriverInfo{No: d.no, Name: d.name, Owner: d.owner, Flags: d.flags, Readable: d.readable, Clients: len(d.clients)}
}

// Connect makes thread tid of process pid a client of the driver called name
// and opens the client side file.
func (v *VFS) Connect(pid task.Pid, tid task.Tid, name string) (task.FileNo, NodeNo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.byName[name]
	if !ok {
		return task.NoFile, NoNode, errno.ErrNoDriver
	}
	d := v.drivers[id]
	c := &clientNode{no: v.allocNode(), driver: d.no, pid: pid, tid: tid}
	file, err := v.openLocked(pid, c.no, SideClient)
	if err != nil {
		return task.NoFile, NoNode, err
	}
	c.clientOpen++
	v.clients[c.no] = c
	d.clients = append(d.clients, c.no)
	log.Debugf("process %d connected to %q as node %d", pid, name, c.no)
	return file, c.no, nil
}

// GetClient claims the first unclaimed client with a pending message among the
// given drivers of owner. Looking up and claiming happen in one critical
// section, so two drivers never get the same client.
func (v *VFS) GetClient(owner task.Pid, ids []NodeNo) (client, driver NodeNo, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		d, err := v.ownedDriver(owner, id)
		if err != nil {
			return NoNode, NoNode, err
		}
		for _, cno := range d.clients {
			c := v.clients[cno]
			if c.claimed || c.toDriver.len() == 0 {
				continue
			}
			c.claimed = true
			return c.no, d.no, nil
		}
	}
	return NoNode, NoNode, errno.ErrNoClientWaiting
}

// Unclaim releases a claim taken by GetClient.
func (v *VFS) Unclaim(client NodeNo) {
	v.mu.Lock()
	if c, ok := v.clients[client]; ok {
		c.claimed = false
	}
	v.mu.Unlock()
}

// OpenClient opens the driver side file on a claimed client.
func (v *VFS) OpenClient(owner task.Pid, driver, client NodeNo) (task.FileNo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := v.ownedDriver(owner, driver); err != nil {
		return task.NoFile, err
	}
	c, ok := v.clients[client]
	if !ok || c.driver != driver {
		return task.NoFile, errno.ErrInvalidNode
	}
	file, err := v.openLocked(owner, client, SideDriver)
	if err != nil {
		return task.NoFile, err
	}
	c.driverOpen++
	return file, nil
}

// OpenClientThread claims the client of driver that belongs to thread tid and
// opens the driver side file on it.
func (v *VFS) OpenClientThread(owner task.Pid, driver NodeNo, tid task.Tid) (task.FileNo, NodeNo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, err := v.ownedDriver(owner, driver)
	if err != nil {
		return task.NoFile, NoNode, err
	}
	for _, cno := range d.clients {
		c := v.clients[cno]
		if c.tid != tid || c.claimed {
			continue
		}
		file, err := v.openLocked(owner, c.no, SideDriver)
		if err != nil {
			return task.NoFile, NoNode, err
		}
		c.claimed = true
		c.driverOpen++
		return file, c.no, nil
	}
	return task.NoFile, NoNode, errno.ErrNoClientWaiting
}

// Clients returns the client nodes of a driver in connect order.
func (v *VFS) Clients(driver NodeNo) []NodeNo {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.drivers[driver]
	if !ok {
		return nil
	}
	return append([]NodeNo(nil), d.clients...)
}

func (v *VFS) removeClientLocked(c *clientNode) {
	delete(v.clients, c.no)
	if d, ok := v.drivers[c.driver]; ok {
		for i, cno := range d.clients {
			if cno == c.no {
				d.clients = append(d.clients[:i], d.clients[i+1:]...)
				break
			}
		}
	}
	log.Debugf("client node %d removed", c.no)
}
