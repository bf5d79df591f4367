package app

import (
	"fmt"
	"strconv"
	"strings"

	"nanokern/kernel/errno"
	"nanokern/kernel/task"
	"nanokern/kernel/vfs"
)

// program returns the entry of a boot process started with args.
type program func(s *System, args []string) func(*task.Context)

var programs = map[string]program{
	"echo": echoDriver,
	"ping": pingClient,
	"dump": dumpTables,
}

// image is the program image a boot process execs. Only its size matters to
// the loader.
func image(args []string) []byte {
	return []byte(strings.Join(args, "\x00"))
}

func boot(s *System, args []string) func(*task.Context) {
	entry := programs[args[0]](s, args)
	return func(c *task.Context) {
		if err := c.Exec("/bin/"+args[0], args, image(args)); err != nil {
			log.Errorf("exec %s: %v", args[0], err)
			c.Exit(1)
		}
		entry(c)
	}
}

// echoDriver registers the driver args[1] and answers every message with its
// own payload. SigTerm stops it.
func echoDriver(s *System, args []string) func(*task.Context) {
	name := "echo"
	if len(args) > 1 {
		name = args[1]
	}
	return func(c *task.Context) {
		id, err := s.Drivers.Register(c, name, vfs.DrvOpen|vfs.DrvRead|vfs.DrvWrite|vfs.DrvClose)
		if err != nil {
			log.Errorf("echo: register %q: %v", name, err)
			c.Exit(1)
		}
		buf := make([]byte, vfs.MaxMessageBytes)
		ids := []vfs.NodeNo{id}
		for {
			w, err := s.Drivers.GetWork(c, ids, buf, 0)
			if err == errno.ErrInterrupted {
				if sig, _ := c.TakeSignal(); sig == task.SigTerm {
					s.Drivers.Unregister(c, id)
					c.Exit(0)
				}
				continue
			}
			if err != nil {
				log.Warningf("echo: get work: %v", err)
				c.Exit(1)
			}
			if err := s.Drivers.Reply(c, w.Fd, w.MsgID, buf[:w.N]); err != nil {
				log.Warningf("echo: reply to client %d: %v", w.Client, err)
			}
			s.Drivers.Close(c, w.Fd)
		}
	}
}

// pingClient sends args[2] pings to the driver args[1] and checks the
// answers.
func pingClient(s *System, args []string) func(*task.Context) {
	name, count := "echo", 3
	if len(args) > 1 {
		name = args[1]
	}
	if len(args) > 2 {
		if n, err := strconv.Atoi(args[2]); err == nil && n > 0 {
			count = n
		}
	}
	return func(c *task.Context) {
		fd, err := s.Drivers.Open(c, name)
		if err != nil {
			log.Errorf("ping: open %q: %v", name, err)
			c.Exit(1)
		}
		buf := make([]byte, vfs.MaxMessageBytes)
		code := 0
		for i := 0; i < count; i++ {
			msg := fmt.Sprintf("ping %d", i)
			start := c.Elapsed()
			if err := s.Drivers.Send(c, fd, uint32(i), []byte(msg)); err != nil {
				log.Errorf("ping: send: %v", err)
				code = 1
				break
			}
			id, n, err := s.Drivers.Receive(c, fd, buf)
			if err != nil || id != uint32(i) || string(buf[:n]) != msg {
				log.Errorf("ping: bad answer %d %q: %v", id, buf[:n], err)
				code = 1
				break
			}
			log.Infof("ping: %q answered by %s in %dms", msg, name, c.Elapsed()-start)
		}
		s.Drivers.Close(c, fd)
		c.Exit(code)
	}
}

// dumpTables writes the kernel tables to the console every args[1]
// milliseconds.
func dumpTables(s *System, args []string) func(*task.Context) {
	every := uint32(1000)
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			every = uint32(n)
		}
	}
	return func(c *task.Context) {
		for {
			if err := c.Sleep(every); err != nil {
				c.Exit(1)
			}
			s.Console.Dump(s.Kernel, s.FS)
		}
	}
}
