package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ragnarhq/ragnar-init/internal/logger"
	"github.com/ragnarhq/ragnar-init/internal/provision"
	"github.com/ragnarhq/ragnar-init/internal/resmon"
)

// ShutdownSignals are forwarded to the children as a termination request.
var ShutdownSignals = []os.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGQUIT, unix.SIGHUP}

// errStop ends the errgroup once the first child exits or a signal arrives.
var errStop = errors.New("stop")

// Stop reasons reported in Result.
const (
	ReasonChildExited = "child exited"
	ReasonSignal      = "signal"
	ReasonStartFailed = "start failed"
	ReasonCanceled    = "canceled"
)

// Result describes why supervision ended and the code to exit with.
type Result struct {
	ExitCode int
	Reason   string
	// Child is the child that exited or failed to start, if any.
	Child  string
	Signal os.Signal
}

// Supervisor runs the serving runtime and the application as a pair: when
// either ends, the other is stopped too. There is no restart.
type Supervisor struct {
	Identity provision.Identity
	// Env is the base environment of both children.
	Env []string

	Serving ProcessSpec
	App     ProcessSpec

	StartDelay time.Duration
	StopGrace  time.Duration
	Ready      ReadyCheck
	// LogRetention enables hourly log cleanup while supervising.
	LogRetention time.Duration
	// Stats samples per-child resource usage into every report; with
	// StatsInterval set, a report is also made on that schedule.
	Stats         *resmon.Collector
	StatsInterval time.Duration

	Stdout io.Writer
	Stderr io.Writer

	// OnChange is called after every child state change.
	OnChange func([]ChildStatus)

	mu       sync.Mutex
	children []*Child

	// signals replaces signal.Notify when set.
	signals <-chan os.Signal
	euid    func() int
}

func (s *Supervisor) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

func (s *Supervisor) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return os.Stderr
}

func (s *Supervisor) geteuid() int {
	if s.euid != nil {
		return s.euid()
	}
	return os.Geteuid()
}

func (s *Supervisor) track(c *Child) {
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
}

// Children returns a snapshot of every child started so far.
func (s *Supervisor) Children() []ChildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChildStatus, 0, len(s.children))
	for _, c := range s.children {
		st := c.Status()
		if s.Stats != nil && st.State == StateRunning {
			if u, err := s.Stats.Group(st.PID); err == nil {
				st.Usage = u
			}
		}
		out = append(out, st)
	}
	return out
}

func (s *Supervisor) report() {
	if s.OnChange != nil {
		s.OnChange(s.Children())
	}
}

// Run starts the serving runtime, waits StartDelay (and the readiness probe,
// if configured), starts the application and then blocks until a child
// exits, a shutdown signal arrives or ctx ends. Every still running child is
// terminated before Run returns. The error is non-nil only when a child
// could not be started.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := s.signals
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, ShutdownSignals...)
		defer signal.Stop(ch)
		sigs = ch
	}

	stopHousekeeping := s.startHousekeeping()
	defer stopHousekeeping()

	var (
		once   sync.Once
		result = Result{ExitCode: 0, Reason: ReasonCanceled}
	)
	finish := func(r Result) {
		once.Do(func() { result = r })
	}

	serving, err := s.start(s.Serving)
	if err != nil {
		logger.Error("%v", err)
		return Result{ExitCode: 1, Reason: ReasonStartFailed, Child: s.Serving.Name}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	watch := func(c *Child) func() error {
		return func() error {
			select {
			case <-c.Done():
				code := c.ExitCode()
				logger.Info("%s exited first with code %d, stopping", c.Name, code)
				finish(Result{ExitCode: code, Reason: ReasonChildExited, Child: c.Name})
				return errStop
			case <-gctx.Done():
				return nil
			}
		}
	}
	g.Go(watch(serving))

	g.Go(func() error {
		select {
		case sig := <-sigs:
			logger.Info("received %v, stopping", sig)
			finish(Result{ExitCode: 128 + signalNumber(sig), Reason: ReasonSignal, Signal: sig})
			return errStop
		case <-gctx.Done():
			return nil
		}
	})

	var startErr error
	g.Go(func() error {
		if !sleep(gctx, s.StartDelay) {
			return nil
		}
		if err := s.Ready.wait(gctx); err != nil {
			if !errors.Is(err, errNotReady) {
				return nil
			}
			logger.Warn("serving runtime not ready at %s after %s, starting %s anyway", s.Ready.URL, s.Ready.Timeout, s.App.Name)
		}
		if gctx.Err() != nil {
			return nil
		}
		app, err := s.start(s.App)
		if err != nil {
			logger.Error("%v", err)
			startErr = err
			finish(Result{ExitCode: 1, Reason: ReasonStartFailed, Child: s.App.Name})
			return errStop
		}
		g.Go(watch(app))
		return nil
	})

	_ = g.Wait()
	s.stopAll()
	logger.Info("supervision ended: %s exit=%d", describe(result), result.ExitCode)
	return result, startErr
}

// stopAll terminates every child concurrently and waits for all of them.
func (s *Supervisor) stopAll() {
	s.mu.Lock()
	children := append([]*Child(nil), s.children...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *Child) {
			defer wg.Done()
			terminate(c, s.StopGrace)
		}(c)
	}
	wg.Wait()
}

// sleep reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return int(unix.SIGTERM)
}

func describe(r Result) string {
	switch {
	case r.Child != "":
		return fmt.Sprintf("%s (%s)", r.Reason, r.Child)
	case r.Signal != nil:
		return fmt.Sprintf("%s (%v)", r.Reason, r.Signal)
	default:
		return r.Reason
	}
}
