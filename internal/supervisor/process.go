package supervisor

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/ragnarhq/ragnar-init/internal/resmon"
)

// ProcessSpec describes one supervised child.
type ProcessSpec struct {
	Name    string
	Command []string
	Dir     string
	// Env is applied on top of the supervisor's base environment.
	Env map[string]string
	// TTY runs the child on a pseudo-terminal.
	TTY bool
	// CaptureOutput sends each output line through the logger.
	CaptureOutput bool
}

// ProcessState is the lifecycle state of a child.
type ProcessState int

const (
	StateStarting ProcessState = iota
	StateRunning
	StateStopping
	StateExited
	StateFailed
)

func (ps ProcessState) String() string {
	switch ps {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateExited:
		return "Exited"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// Child is the handle of a launched process.
type Child struct {
	Name string

	mu        sync.Mutex
	pid       int
	state     ProcessState
	exitCode  int
	startedAt time.Time
	stopping  bool

	done chan struct{}
}

func newChild(name string) *Child {
	return &Child{Name: name, state: StateStarting, exitCode: -1, done: make(chan struct{})}
}

// ChildStatus is a point-in-time copy of a Child.
type ChildStatus struct {
	Name      string
	PID       int
	State     ProcessState
	ExitCode  int
	StartedAt time.Time
	// Usage is sampled for running children when a collector is set.
	Usage resmon.Usage
}

func (c *Child) Status() ChildStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChildStatus{Name: c.Name, PID: c.pid, State: c.state, ExitCode: c.exitCode, StartedAt: c.startedAt}
}

func (c *Child) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// ExitCode is -1 until the child has exited.
func (c *Child) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

func (c *Child) running(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid = pid
	c.state = StateRunning
	c.startedAt = time.Now()
}

func (c *Child) failed() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	close(c.done)
}

// markStopping reports false if the child already exited.
func (c *Child) markStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return false
	}
	c.state = StateStopping
	c.stopping = true
	return true
}

// exited records the exit status. A child stopped on request, or one that
// exited 0, is Exited; anything else is Failed.
func (c *Child) exited(ps *os.ProcessState) {
	c.mu.Lock()
	c.exitCode = exitStatus(ps)
	if c.exitCode == 0 || c.stopping {
		c.state = StateExited
	} else {
		c.state = StateFailed
	}
	c.mu.Unlock()
	close(c.done)
}

// exitStatus follows shell conventions: 128+n for a child killed by signal n.
func exitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return 1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
