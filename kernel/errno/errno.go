// Package errno defines the kernel error codes and the syscall return convention.
//
// Every code is negative so that it can be returned from a system call in the
// same register as a non-negative result.
package errno

import "errors"

// Errno is a kernel error code.
type Errno int32

const (
	ErrInvalidArgs     Errno = -1
	ErrNoMem           Errno = -2
	ErrNoFreeThreads   Errno = -3
	ErrNoFreePid       Errno = -4
	ErrInvalidTid      Errno = -5
	ErrInvalidNode     Errno = -6
	ErrNoClientWaiting Errno = -7
	ErrInterrupted     Errno = -8
	ErrNoChild         Errno = -9
	ErrMaxFds          Errno = -10
	ErrInvalidFd       Errno = -11
	ErrNoDriver        Errno = -12
	ErrDriverExists    Errno = -13
	ErrNotOwner        Errno = -14
	ErrQueueFull       Errno = -15
	ErrInvalidPid      Errno = -16
	ErrUnsupportedOp   Errno = -17
	ErrNoMessage       Errno = -18
	ErrMsgTooLarge     Errno = -19
	ErrInvalidFile     Errno = -20
)

// Kind is the category an error code belongs to.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArguments
	KindOutOfMemory
	KindResourceExhausted
	KindNotFound
	KindWouldBlock
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArguments:
		return "invalid_arguments"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindNotFound:
		return "not_found"
	case KindWouldBlock:
		return "would_block"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Kind returns the category of e.
func (e Errno) Kind() Kind {
	switch e {
	case ErrInvalidArgs, ErrDriverExists, ErrNotOwner, ErrUnsupportedOp, ErrMsgTooLarge:
		return KindInvalidArguments
	case ErrNoMem:
		return KindOutOfMemory
	case ErrNoFreeThreads, ErrNoFreePid, ErrMaxFds:
		return KindResourceExhausted
	case ErrInvalidTid, ErrInvalidNode, ErrNoChild, ErrInvalidFd, ErrNoDriver, ErrInvalidPid, ErrInvalidFile:
		return KindNotFound
	case ErrNoClientWaiting, ErrQueueFull, ErrNoMessage:
		return KindWouldBlock
	case ErrInterrupted:
		return KindInterrupted
	default:
		return KindUnknown
	}
}

func (e Errno) Error() string {
	switch e {
	case ErrInvalidArgs:
		return "invalid arguments"
	case ErrNoMem:
		return "not enough memory"
	case ErrNoFreeThreads:
		return "no free thread slots"
	case ErrNoFreePid:
		return "no free process slots"
	case ErrInvalidTid:
		return "invalid thread id"
	case ErrInvalidNode:
		return "invalid node number"
	case ErrNoClientWaiting:
		return "no client waiting"
	case ErrInterrupted:
		return "interrupted"
	case ErrNoChild:
		return "no child process"
	case ErrMaxFds:
		return "file descriptor table full"
	case ErrInvalidFd:
		return "invalid file descriptor"
	case ErrNoDriver:
		return "no such driver"
	case ErrDriverExists:
		return "driver exists"
	case ErrNotOwner:
		return "not the owner"
	case ErrQueueFull:
		return "queue full"
	case ErrInvalidPid:
		return "invalid process id"
	case ErrUnsupportedOp:
		return "operation not supported by driver"
	case ErrNoMessage:
		return "no message"
	case ErrMsgTooLarge:
		return "message too large"
	case ErrInvalidFile:
		return "invalid file"
	default:
		return "unknown error"
	}
}

// KindOf returns the category of err, looking through wrapped errors.
func KindOf(err error) Kind {
	var e Errno
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindUnknown
}

// Ret converts a result and an error into a syscall return value.
//
// Errors that carry no Errno are reported as ErrInvalidArgs.
func Ret(val int64, err error) int64 {
	if err == nil {
		return val
	}
	var e Errno
	if errors.As(err, &e) {
		return int64(e)
	}
	return int64(ErrInvalidArgs)
}
