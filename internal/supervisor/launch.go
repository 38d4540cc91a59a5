package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ragnarhq/ragnar-init/internal/logger"
	"github.com/ragnarhq/ragnar-init/internal/provision"
)

var errEmptyCommand = errors.New("empty command")

// credential returns the credential switch for a child, or nil when the
// supervisor is not root or the identity is root already.
func credential(id provision.Identity, euid int) *syscall.Credential {
	if euid != 0 || id.UID == 0 {
		return nil
	}
	return &syscall.Credential{
		Uid:    uint32(id.UID),
		Gid:    uint32(id.GID),
		Groups: []uint32{uint32(id.GID)},
	}
}

func (s *Supervisor) command(spec ProcessSpec) (*exec.Cmd, error) {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, errEmptyCommand
	}
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = provision.Merge(s.Env, spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: credential(s.Identity, s.geteuid()),
		// The children must not outlive the supervisor.
		Pdeathsig: unix.SIGKILL,
	}
	if !spec.TTY {
		// pty sessions lead their own group already.
		cmd.SysProcAttr.Setpgid = true
	}
	return cmd, nil
}

// start launches spec and returns once the process is running. The child is
// reaped in the background; its Done channel closes afterwards.
func (s *Supervisor) start(spec ProcessSpec) (*Child, error) {
	c := newChild(spec.Name)
	s.track(c)

	cmd, err := s.command(spec)
	if err != nil {
		c.failed()
		s.report()
		return c, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	var flush func()
	var ptmx *os.File
	if spec.TTY {
		ptmx, err = pty.StartWithSize(cmd, nil)
	} else {
		flush = s.attachOutput(cmd, spec)
		err = cmd.Start()
	}
	if err != nil {
		c.failed()
		s.report()
		return c, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	c.running(cmd.Process.Pid)
	logger.Info("started %s pid=%d cmd=%q", spec.Name, cmd.Process.Pid, spec.Command)
	s.report()

	copied := make(chan struct{})
	if ptmx != nil {
		go func() {
			defer close(copied)
			var dst io.Writer = s.stdout()
			if spec.CaptureOutput {
				lw := newLineWriter(spec.Name, "tty")
				defer lw.Close()
				dst = lw
			}
			// EIO once the child side closes.
			_, _ = io.Copy(dst, ptmx)
		}()
	} else {
		close(copied)
	}

	go func() {
		err := cmd.Wait()
		if ptmx != nil {
			// A grandchild may hold the tty open; do not wait on it forever.
			select {
			case <-copied:
			case <-time.After(time.Second):
			}
			ptmx.Close()
		}
		if flush != nil {
			flush()
		}
		c.exited(cmd.ProcessState)
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			logger.Warn("%s: wait: %v", spec.Name, err)
		}
		logger.Info("%s exited code=%d", spec.Name, c.ExitCode())
		s.report()
	}()
	return c, nil
}

// attachOutput wires stdout/stderr and returns a flush for buffered lines.
func (s *Supervisor) attachOutput(cmd *exec.Cmd, spec ProcessSpec) func() {
	if !spec.CaptureOutput {
		cmd.Stdout = s.stdout()
		cmd.Stderr = s.stderr()
		return nil
	}
	out := newLineWriter(spec.Name, "stdout")
	errw := newLineWriter(spec.Name, "stderr")
	cmd.Stdout = out
	cmd.Stderr = errw
	return func() {
		out.Close()
		errw.Close()
	}
}

// maxLineLen bounds the buffered partial line; longer output is logged in
// pieces.
const maxLineLen = 64 << 10

// lineWriter logs complete lines written to it, tagged with the child name.
type lineWriter struct {
	child  string
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(child, stream string) *lineWriter {
	return &lineWriter{child: child, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		// \r ends a line too: progress bars redraw with it and never send \n.
		i := bytes.IndexAny(w.buf.Bytes(), "\r\n")
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		if i > 0 {
			w.emit(string(line[:i]))
		}
	}
	if w.buf.Len() > maxLineLen {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return len(p), nil
}

// Close logs a trailing partial line.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *lineWriter) emit(line string) {
	e := logger.With("child", w.child)
	if w.stream == "stderr" {
		e.Warn(line)
		return
	}
	e.Info(line)
}

// terminate asks the child's process group to stop and kills it after grace.
func terminate(c *Child, grace time.Duration) {
	if !c.markStopping() {
		<-c.Done()
		return
	}
	pid := c.PID()
	logger.Info("stopping %s pid=%d", c.Name, pid)
	signalGroup(pid, unix.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.Done():
		return
	case <-timer.C:
	}
	logger.Warn("%s did not exit within %s, sending SIGKILL", c.Name, grace)
	signalGroup(pid, unix.SIGKILL)
	<-c.Done()
}

// signalGroup signals the process group led by pid, falling back to the
// process alone if the group is gone.
func signalGroup(pid int, sig unix.Signal) {
	if err := unix.Kill(-pid, sig); err != nil {
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			logger.Warn("signal %s to pid %d: %v", unix.SignalName(sig), pid, err)
		}
	}
}
