package driver

import (
	"nanokern/kernel/errno"
	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

// System call numbers of the driver layer.
const (
	SysRegister = iota + 1
	SysUnregister
	SysSetDataReadable
	SysGetClientThread
	SysGetWork
	SysOpen
	SysSend
	SysReply
	SysReceive
	SysClose
)

// Args carries system call arguments. Out fields point into the caller's
// memory; a nil required out field is an invalid buffer.
type Args struct {
	Name     string
	Flags    uint32
	ID       vfs.NodeNo
	IDs      []vfs.NodeNo
	Tid      task.Tid
	Fd       int
	MsgID    uint32
	Buf      []byte
	Readable bool

	OutMsgID  *uint32
	OutDriver *vfs.NodeNo
}

// Syscall dispatches system call nr. It returns a non-negative result or a
// negative error code.
func (l *Layer) Syscall(c *task.Context, nr int, a *Args) int64 {
	if a == nil {
		return int64(errno.ErrInvalidArgs)
	}
	switch nr {
	case SysRegister:
		id, err := l.Register(c, a.Name, vfs.DriverFlags(a.Flags))
		return errno.Ret(int64(id), err)
	case SysUnregister:
		return errno.Ret(0, l.Unregister(c, a.ID))
	case SysSetDataReadable:
		return errno.Ret(0, l.SetDataReadable(c, a.ID, a.Readable))
	case SysGetClientThread:
		fd, err := l.GetClientThread(c, a.ID, a.Tid)
		return errno.Ret(int64(fd), err)
	case SysGetWork:
		if a.OutMsgID == nil {
			return int64(errno.ErrInvalidArgs)
		}
		w, err := l.GetWork(c, a.IDs, a.Buf, WorkFlags(a.Flags))
		if err != nil {
			return errno.Ret(0, err)
		}
		*a.OutMsgID = w.MsgID
		if a.OutDriver != nil {
			*a.OutDriver = w.Driver
		}
		return int64(w.Fd)
	case SysOpen:
		fd, err := l.Open(c, a.Name)
		return errno.Ret(int64(fd), err)
	case SysSend:
		return errno.Ret(0, l.Send(c, a.Fd, a.MsgID, a.Buf))
	case SysReply:
		return errno.Ret(0, l.Reply(c, a.Fd, a.MsgID, a.Buf))
	case SysReceive:
		if a.OutMsgID == nil {
			return int64(errno.ErrInvalidArgs)
		}
		id, n, err := l.Receive(c, a.Fd, a.Buf)
		if err != nil {
			return errno.Ret(0, err)
		}
		*a.OutMsgID = id
		return int64(n)
	case SysClose:
		return errno.Ret(0, l.Close(c, a.Fd))
	default:
		log.Warningf("thread %d: unknown system call %d", c.Tid(), nr)
		return int64(errno.ErrUnsupportedOp)
	}
}
