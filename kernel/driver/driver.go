// Package driver is the driver/client RPC layer on top of the VFS.
//
// A driver process registers a named node with a set of capabilities. Its
// threads fetch work with GetWork: the first unclaimed client with a pending
// message among the given drivers is opened on a fresh descriptor and its
// message is received in the same call. Clients connect with Open and talk to
// the driver with Send and Receive.
//
// Every operation enters the kernel once. The VFS is only called with the
// kernel lock held, so the lock order is always kernel before VFS.
package driver

import (
	"github.com/op/go-logging"

	"nanokern/kernel/errno"
	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

var log = logging.MustGetLogger("driver")

// MaxWorkIDs is the maximum number of drivers one GetWork call serves.
const MaxWorkIDs = 32

// WorkFlags modify GetWork.
type WorkFlags uint32

const (
	// GWNoBlock makes GetWork fail with ErrNoClientWaiting instead of
	// waiting for a client.
	GWNoBlock WorkFlags = 1 << iota
)

// Work is what GetWork hands to a driver thread.
type Work struct {
	// Fd is the descriptor bound to the client.
	Fd int
	// Driver is the driver the client connected through.
	Driver vfs.NodeNo
	// Client is the client node.
	Client vfs.NodeNo
	MsgID  uint32
	// N is the number of payload bytes copied into the buffer, Len the
	// size of the payload.
	N   int
	Len int
}

// Layer implements the driver system calls.
type Layer struct {
	k  *task.Kernel
	fs *vfs.VFS
}

// New returns the driver layer of k backed by fs.
func New(k *task.Kernel, fs *vfs.VFS) *Layer {
	return &Layer{k: k, fs: fs}
}

// FS returns the file system the layer works on.
func (l *Layer) FS() *vfs.VFS { return l.fs }

// Register registers a driver called name for the calling process. Flags must
// be exactly DrvFS or a subset of DrvAll. A file system driver marks its
// process PFS.
func (l *Layer) Register(c *task.Context, name string, flags vfs.DriverFlags) (vfs.NodeNo, error) {
	if !flags.Valid() {
		log.Warningf("process %d: invalid driver flags %#x for %q", c.Pid(), uint32(flags), name)
		return vfs.NoNode, errno.ErrInvalidArgs
	}
	c.Enter()
	defer c.Leave()
	id, err := l.fs.CreateDriver(c.Pid(), name, flags)
	if err != nil {
		return vfs.NoNode, err
	}
	if flags == vfs.DrvFS {
		c.Proc().SetFlags(task.PFS)
	}
	return id, nil
}

// Unregister removes a driver of the calling process. Clients blocked in
// Receive are woken and see ErrNoDriver.
func (l *Layer) Unregister(c *task.Context, id vfs.NodeNo) error {
	c.Enter()
	defer c.Leave()
	clients := l.fs.Clients(id)
	if err := l.fs.RemoveDriver(c.Pid(), id); err != nil {
		return err
	}
	for _, cno := range clients {
		c.Wakeup(task.EvReceivedMsg, cno)
	}
	return nil
}

// SetDataReadable marks whether a driver of the calling process has data.
func (l *Layer) SetDataReadable(c *task.Context, id vfs.NodeNo, readable bool) error {
	c.Enter()
	defer c.Leave()
	return l.fs.SetDataReadable(c.Pid(), id, readable)
}

// GetClientThread opens the client of driver id that belongs to thread tid
// and binds it to a descriptor of the calling process.
func (l *Layer) GetClientThread(c *task.Context, id vfs.NodeNo, tid task.Tid) (int, error) {
	c.Enter()
	defer c.Leave()
	file, _, err := l.fs.OpenClientThread(c.Pid(), id, tid)
	if err != nil {
		return -1, err
	}
	return l.assoc(c, file)
}

// assoc binds file to a free descriptor and closes it again if there is none.
func (l *Layer) assoc(c *task.Context, file task.FileNo) (int, error) {
	fd, err := c.Proc().AssocFd(file)
	if err != nil {
		l.fs.CloseFile(c.Pid(), file)
		return -1, err
	}
	return fd, nil
}

// GetWork fetches the next client of the given drivers, binds it to a
// descriptor and receives one message from it into buf. Without GWNoBlock the
// calling thread waits for a client; a signal ends the wait with
// ErrInterrupted. On failure nothing stays open or claimed.
func (l *Layer) GetWork(c *task.Context, ids []vfs.NodeNo, buf []byte, flags WorkFlags) (Work, error) {
	if len(ids) == 0 || len(ids) > MaxWorkIDs || flags&^GWNoBlock != 0 {
		return Work{}, errno.ErrInvalidArgs
	}
	c.Enter()
	defer c.Leave()
	pid := c.Pid()

	var client, drv vfs.NodeNo
	for {
		var err error
		client, drv, err = l.fs.GetClient(pid, ids)
		if err == nil {
			break
		}
		if err != errno.ErrNoClientWaiting || flags&GWNoBlock != 0 {
			return Work{}, err
		}
		if err := c.Wait(task.EvClient, nil); err != nil {
			return Work{}, err
		}
	}

	file, err := l.fs.OpenClient(pid, drv, client)
	if err != nil {
		l.fs.Unclaim(client)
		return Work{}, err
	}
	fd, err := l.assoc(c, file)
	if err != nil {
		return Work{}, err
	}
	msg, err := l.fs.Receive(file)
	if err != nil {
		c.Proc().UnassocFd(fd)
		l.fs.CloseFile(pid, file)
		return Work{}, err
	}
	n := copy(buf, msg.Payload())
	log.Debugf("process %d got client %d of driver %d on fd %d", pid, client, drv, fd)
	return Work{Fd: fd, Driver: drv, Client: client, MsgID: msg.ID, N: n, Len: int(msg.Len)}, nil
}

// Open connects the calling thread as a client of the driver called name.
func (l *Layer) Open(c *task.Context, name string) (int, error) {
	c.Enter()
	defer c.Leave()
	file, _, err := l.fs.Connect(c.Pid(), c.Tid(), name)
	if err != nil {
		return -1, err
	}
	return l.assoc(c, file)
}

// Send queues a message on fd. A client's message wakes the driver threads
// waiting for work.
func (l *Layer) Send(c *task.Context, fd int, id uint32, data []byte) error {
	c.Enter()
	defer c.Leave()
	return l.send(c, fd, id, data, false)
}

// Reply queues a message from the driver side of fd to its client.
func (l *Layer) Reply(c *task.Context, fd int, id uint32, data []byte) error {
	c.Enter()
	defer c.Leave()
	return l.send(c, fd, id, data, true)
}

func (l *Layer) send(c *task.Context, fd int, id uint32, data []byte, driverOnly bool) error {
	file, err := c.Proc().FileOf(fd)
	if err != nil {
		return err
	}
	if driverOnly {
		info, err := l.fs.File(file)
		if err != nil {
			return err
		}
		if info.Side != vfs.SideDriver {
			return errno.ErrUnsupportedOp
		}
	}
	node, side, err := l.fs.Send(file, id, data)
	if err != nil {
		return err
	}
	if side == vfs.SideClient {
		c.Wakeup(task.EvClient, nil)
	}
	c.Wakeup(task.EvReceivedMsg, node)
	return nil
}

// Receive takes the next message for fd into buf, waiting for one if needed.
// It fails with ErrNoDriver once the other side is gone.
func (l *Layer) Receive(c *task.Context, fd int, buf []byte) (id uint32, n int, err error) {
	c.Enter()
	defer c.Leave()
	for {
		file, err := c.Proc().FileOf(fd)
		if err != nil {
			return 0, 0, err
		}
		msg, err := l.fs.Receive(file)
		if err == nil {
			return msg.ID, copy(buf, msg.Payload()), nil
		}
		if err != errno.ErrNoMessage {
			return 0, 0, err
		}
		info, err := l.fs.File(file)
		if err != nil {
			return 0, 0, err
		}
		if !info.Peer {
			return 0, 0, errno.ErrNoDriver
		}
		if err := c.Wait(task.EvReceivedMsg, info.Node); err != nil {
			return 0, 0, err
		}
	}
}

// Close closes fd. The other side is woken so it notices, and when a driver
// lets go of a client that still has messages queued, the driver threads
// waiting for work are woken to pick it up.
func (l *Layer) Close(c *task.Context, fd int) error {
	c.Enter()
	defer c.Leave()
	file, err := c.Proc().UnassocFd(fd)
	if err != nil {
		return err
	}
	c.WakeFS(l.fs.CloseFile(c.Pid(), file))
	return nil
}
