package entrypoint

import (
	"context"
	"os"
	"time"

	"github.com/ragnarhq/ragnar-init/internal/config"
	"github.com/ragnarhq/ragnar-init/internal/hostfs"
	"github.com/ragnarhq/ragnar-init/internal/logger"
	"github.com/ragnarhq/ragnar-init/internal/provision"
	"github.com/ragnarhq/ragnar-init/internal/resmon"
	"github.com/ragnarhq/ragnar-init/internal/state"
	"github.com/ragnarhq/ragnar-init/internal/supervisor"
	"github.com/ragnarhq/ragnar-init/internal/usercmd"
	"github.com/ragnarhq/ragnar-init/internal/usermgr"
)

// Deps holds the replaceable collaborators of Run. The zero value uses the
// real system.
type Deps struct {
	// Accounts overrides the backend selected by the provisioner setting.
	Accounts provision.Accounts
	// Chown overrides os.Lchown for home and data dir ownership.
	Chown func(path string, uid, gid int) error
	// Environ is the base environment of the children (os.Environ).
	Environ func() []string
	// Supervise runs the supervisor (Supervisor.Run).
	Supervise func(ctx context.Context, s *supervisor.Supervisor) (supervisor.Result, error)
}

func (d Deps) environ() []string {
	if d.Environ != nil {
		return d.Environ()
	}
	return os.Environ()
}

func (d Deps) supervise(ctx context.Context, s *supervisor.Supervisor) (supervisor.Result, error) {
	if d.Supervise != nil {
		return d.Supervise(ctx, s)
	}
	return s.Run(ctx)
}

// Start loads the configuration from configFile and the environment and
// runs. It returns the process exit code.
func Start(ctx context.Context, configFile string, deps Deps) int {
	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Error("%v", err)
		return ExitCode(err)
	}
	return Run(ctx, cfg, deps)
}

// ExitCode maps a startup error to the process exit code. Invalid
// configuration and failed provisioning both exit 1 before any child runs.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// SetupLogging applies the log settings and opens the log file directory.
func SetupLogging(cfg *config.Config) {
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Warn("log settings: %v", err)
	}
	dir := cfg.Log.Dir
	if dir == "" && cfg.DataDir != "" {
		dir = hostPath(cfg, cfg.DataDir)
	}
	if err := logger.Init(dir); err != nil {
		logger.Warn("log file disabled: %v", err)
	}
}

func hostPath(cfg *config.Config, abs string) string {
	p, err := hostfs.New(cfg.Root).Path(abs)
	if err != nil {
		return abs
	}
	return p
}

// Provision resolves the identity the children run as.
func Provision(ctx context.Context, cfg *config.Config, deps Deps) (provision.Identity, error) {
	fs := hostfs.New(cfg.Root)
	fs.Chown = deps.Chown

	accounts := deps.Accounts
	if accounts == nil {
		accounts = Accounts(cfg, fs)
	}
	return provision.New(accounts, fs).Provision(ctx, provision.Request{
		UID:      cfg.PUID,
		GID:      cfg.PGID,
		User:     cfg.User,
		Group:    cfg.Group,
		Password: cfg.Password,
		DataDir:  cfg.DataDir,
	})
}

// Accounts returns the account backend selected by cfg.Provisioner.
func Accounts(cfg *config.Config, fs *hostfs.FS) provision.Accounts {
	files := usermgr.New(fs)
	if cfg.Provisioner == config.ProvisionerCommands {
		return &usercmd.Accounts{Files: files, Runner: usercmd.New(cfg.Root)}
	}
	return files
}

// Run provisions the identity and supervises the children until they end.
// Nothing is launched when provisioning fails.
func Run(ctx context.Context, cfg *config.Config, deps Deps) int {
	SetupLogging(cfg)
	defer logger.Close()
	if cfg.File != "" {
		logger.Info("using config %s", cfg.File)
	}

	id, err := Provision(ctx, cfg, deps)
	if err != nil {
		logger.Error("%v", err)
		return ExitCode(err)
	}

	store := state.NewStore(cfg.StateFile)
	started := time.Now().UTC()
	record(store, func(st *state.Status) {
		st.PID = os.Getpid()
		st.StartedAt = started
		st.Identity = state.Identity(id)
	})

	sup := &supervisor.Supervisor{
		Identity:      id,
		Env:           provision.Environment(id, cfg.BinDir, deps.environ()),
		Serving:       processSpec(cfg.Serving),
		App:           processSpec(cfg.App),
		StartDelay:    cfg.StartDelay,
		StopGrace:     cfg.StopGrace,
		Ready:         supervisor.ReadyCheck{URL: cfg.Ready.URL, Match: cfg.Ready.Match, Timeout: cfg.Ready.Timeout},
		LogRetention:  cfg.Log.Retention,
		Stats:         resmon.NewCollector(""),
		StatsInterval: cfg.StatsInterval,
		OnChange: func(children []supervisor.ChildStatus) {
			record(store, func(st *state.Status) { st.Children = stateChildren(children) })
		},
	}

	res, err := deps.supervise(ctx, sup)
	if err != nil {
		logger.Error("%v", err)
	}
	stopped := time.Now().UTC()
	record(store, func(st *state.Status) {
		st.Children = stateChildren(sup.Children())
		st.StoppedAt = &stopped
		st.StopReason = res.Reason
		code := res.ExitCode
		st.ExitCode = &code
	})
	return res.ExitCode
}

func record(store *state.Store, fn func(*state.Status)) {
	if err := store.Update(fn); err != nil {
		logger.Warn("status file %s: %v", store.Path(), err)
	}
}

func processSpec(p config.Process) supervisor.ProcessSpec {
	return supervisor.ProcessSpec{
		Name:          p.Name,
		Command:       p.Command,
		Dir:           p.Dir,
		Env:           p.Env,
		TTY:           p.TTY,
		CaptureOutput: p.CaptureOutput,
	}
}

func stateChildren(cs []supervisor.ChildStatus) []state.Child {
	out := make([]state.Child, 0, len(cs))
	for _, c := range cs {
		sc := state.Child{
			Name:       c.Name,
			PID:        c.PID,
			State:      c.State.String(),
			StartedAt:  c.StartedAt,
			Processes:  c.Usage.Processes,
			RSSBytes:   c.Usage.RSSBytes,
			CPUSeconds: c.Usage.CPUSeconds,
		}
		if c.State == supervisor.StateExited || c.State == supervisor.StateFailed {
			code := c.ExitCode
			sc.ExitCode = &code
		}
		out = append(out, sc)
	}
	return out
}
