package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	ProvisionerFiles    = "files"
	ProvisionerCommands = "commands"
)

// maxSeconds is the longest bare-seconds duration time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

var (
	errNotID       = errors.New("must be a non-negative integer")
	errIDRange     = errors.New("out of range")
	errEmptyCmd    = errors.New("command must not be empty")
	errNegative    = errors.New("must not be negative")
	errTooLong     = errors.New("too long")
	errProvisioner = fmt.Errorf("must be %q or %q", ProvisionerFiles, ProvisionerCommands)

	idRe      = regexp.MustCompile(`^[0-9]+$`)
	secondsRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// Process describes one supervised child.
type Process struct {
	Name          string
	Command       []string
	Dir           string
	Env           map[string]string
	TTY           bool
	CaptureOutput bool
}

// Ready configures the optional HTTP readiness probe of the serving runtime.
type Ready struct {
	URL     string
	Match   string
	Timeout time.Duration
}

type Log struct {
	Level     string
	Format    string
	Dir       string
	Retention time.Duration
}

type Config struct {
	PUID     int
	PGID     int
	User     string
	Group    string
	Password string

	Root        string
	DataDir     string
	BinDir      string
	Provisioner string

	StartDelay time.Duration
	StopGrace  time.Duration
	Ready      Ready

	Serving Process
	App     Process

	Log       Log
	StateFile string
	// StatsInterval is how often child resource usage is written to the
	// status file; 0 disables it.
	StatsInterval time.Duration

	// File is the config file that was read, if any.
	File string
}

// Load reads defaults, an optional YAML file, ./.env and the environment,
// in increasing priority, and validates the result.
func Load(configFile string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setupViper(v, configFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, &ConfigError{Field: "config file", Value: configFile, Err: err}
		}
	}
	return fromViper(v)
}

// loadEnvFile loads ./.env if present; a missing file is fine.
func loadEnvFile() {
	if err := gotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}
}

func setupViper(v *viper.Viper, configFile string) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/ragnar-init")
	v.AddConfigPath(".")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	setDefaults(v)
	bindEnvironmentVariables(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("puid", "1000")
	v.SetDefault("pgid", "1000")
	v.SetDefault("user", "ragnar")
	v.SetDefault("group", "ragnar")
	v.SetDefault("root", "/")
	v.SetDefault("data_dir", "/app/data")
	v.SetDefault("bin_dir", "/app/.venv/bin")
	v.SetDefault("provisioner", ProvisionerFiles)
	v.SetDefault("start_delay", "5s")
	v.SetDefault("stop_grace", "10s")

	v.SetDefault("ready.match", "Ollama is running")
	v.SetDefault("ready.timeout", "60s")

	v.SetDefault("serving.name", "ollama")
	v.SetDefault("serving.command", []string{"ollama", "serve"})
	v.SetDefault("app.name", "ragnar")
	v.SetDefault("app.command", []string{"python", "src/main.py"})
	v.SetDefault("app.dir", "/app")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.retention", "72h")
	v.SetDefault("state_file", "/run/ragnar-init/state.yaml")
	v.SetDefault("stats_interval", "30s")
}

func bindEnvironmentVariables(v *viper.Viper) {
	v.BindEnv("puid", "PUID")
	v.BindEnv("pgid", "PGID")
	v.BindEnv("user", "USER_NAME")
	v.BindEnv("group", "GROUP_NAME")
	v.BindEnv("password", "USER_PASSWORD")

	v.BindEnv("root", "RAGNAR_ROOTFS")
	v.BindEnv("data_dir", "DATA_DIR")
	v.BindEnv("bin_dir", "APP_BIN_DIR")
	v.BindEnv("provisioner", "RAGNAR_PROVISIONER")
	v.BindEnv("start_delay", "START_DELAY")
	v.BindEnv("stop_grace", "STOP_GRACE")

	v.BindEnv("ready.url", "OLLAMA_READY_URL")
	v.BindEnv("ready.match", "OLLAMA_READY_MATCH")
	v.BindEnv("ready.timeout", "OLLAMA_READY_TIMEOUT")

	v.BindEnv("serving.command", "RAGNAR_SERVING_COMMAND")
	v.BindEnv("app.command", "RAGNAR_APP_COMMAND")

	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.dir", "LOG_DIR")
	v.BindEnv("log.retention", "LOG_RETENTION")
	v.BindEnv("state_file", "RAGNAR_STATE_FILE")
	v.BindEnv("stats_interval", "RAGNAR_STATS_INTERVAL")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var err error
	cfg := &Config{File: v.ConfigFileUsed()}

	// Identity first: a malformed id must fail before anything else is read.
	if cfg.PUID, err = ParseID("PUID", v.GetString("puid")); err != nil {
		return nil, err
	}
	if cfg.PGID, err = ParseID("PGID", v.GetString("pgid")); err != nil {
		return nil, err
	}
	cfg.User = strings.TrimSpace(v.GetString("user"))
	cfg.Group = strings.TrimSpace(v.GetString("group"))
	cfg.Password = v.GetString("password")

	cfg.Root = v.GetString("root")
	cfg.DataDir = v.GetString("data_dir")
	cfg.BinDir = v.GetString("bin_dir")
	cfg.Provisioner = strings.ToLower(strings.TrimSpace(v.GetString("provisioner")))
	if cfg.Provisioner != ProvisionerFiles && cfg.Provisioner != ProvisionerCommands {
		return nil, &ConfigError{Field: "provisioner", Value: cfg.Provisioner, Err: errProvisioner}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"start_delay", &cfg.StartDelay},
		{"stop_grace", &cfg.StopGrace},
		{"ready.timeout", &cfg.Ready.Timeout},
		{"log.retention", &cfg.Log.Retention},
		{"stats_interval", &cfg.StatsInterval},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDuration(d.key, v.GetString(d.key)); err != nil {
			return nil, err
		}
	}
	cfg.Ready.URL = strings.TrimSpace(v.GetString("ready.url"))
	cfg.Ready.Match = v.GetString("ready.match")

	if cfg.Serving, err = readProcess(v, "serving"); err != nil {
		return nil, err
	}
	if cfg.App, err = readProcess(v, "app"); err != nil {
		return nil, err
	}

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.Dir = v.GetString("log.dir")
	cfg.StateFile = v.GetString("state_file")
	return cfg, nil
}

// readProcess reads each field separately so a YAML file that only sets
// e.g. serving.tty keeps the default command.
func readProcess(v *viper.Viper, key string) (Process, error) {
	p := Process{
		Name:          v.GetString(key + ".name"),
		Command:       v.GetStringSlice(key + ".command"),
		Dir:           v.GetString(key + ".dir"),
		Env:           v.GetStringMapString(key + ".env"),
		TTY:           v.GetBool(key + ".tty"),
		CaptureOutput: v.GetBool(key + ".capture_output"),
	}
	if p.Name == "" {
		p.Name = key
	}
	// viper lowercases map keys; environment names are conventionally upper case.
	env := make(map[string]string, len(p.Env))
	for k, val := range p.Env {
		env[strings.ToUpper(k)] = val
	}
	p.Env = env
	if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
		return Process{}, &ConfigError{Field: key + ".command", Value: strings.Join(p.Command, " "), Err: errEmptyCmd}
	}
	return p, nil
}

// ParseID parses a numeric user or group id. Only plain decimal digits are
// accepted: no sign, no whitespace.
func ParseID(field, value string) (int, error) {
	if !idRe.MatchString(value) {
		return 0, &ConfigError{Field: field, Value: value, Err: errNotID}
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil || n == 1<<32-1 {
		// 4294967295 is (uid_t)-1, "no change" for chown(2).
		return 0, &ConfigError{Field: field, Value: value, Err: errIDRange}
	}
	return int(n), nil
}

// ParseDuration accepts Go durations ("1m30s") and, like sleep(1), bare
// numbers as seconds.
func ParseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if secondsRe.MatchString(value) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, &ConfigError{Field: field, Value: value, Err: err}
		}
		if f > maxSeconds {
			return 0, &ConfigError{Field: field, Value: value, Err: errTooLong}
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: field, Value: value, Err: err}
	}
	if d < 0 {
		return 0, &ConfigError{Field: field, Value: value, Err: errNegative}
	}
	return d, nil
}
