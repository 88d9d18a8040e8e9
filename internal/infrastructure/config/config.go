package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	HostKeyStrict = "strict"
	HostKeyTOFU   = "tofu"
)

type Environment struct {
	Host            string `yaml:"host"`
	SSHPort         int    `yaml:"ssh_port,omitempty"`
	AppPort         int    `yaml:"port"`
	User            string `yaml:"user,omitempty"`
	Method          string `yaml:"method,omitempty"`
	ContainerMode   string `yaml:"container_mode,omitempty"`
	HealthPath      string `yaml:"health_path,omitempty"`
	ProbeVia        string `yaml:"probe_via,omitempty"`
	RequireApproval *bool  `yaml:"require_approval,omitempty"`
	Frozen          bool   `yaml:"frozen,omitempty"`
}

type Config struct {
	Job                string                 `yaml:"job"`
	Application        string                 `yaml:"application"`
	DefaultEnvironment string                 `yaml:"default_environment"`
	Branches           map[string]string      `yaml:"branches"`
	Environments       map[string]Environment `yaml:"environments"`

	SSH struct {
		User           string        `yaml:"user"`
		KeyFile        string        `yaml:"key_file"`
		KnownHosts     string        `yaml:"known_hosts"`
		HostKeyPolicy  string        `yaml:"host_key_policy"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"ssh"`

	Jar struct {
		RemoteDir   string        `yaml:"remote_dir"`
		RemoteName  string        `yaml:"remote_name"`
		LogFile     string        `yaml:"log_file"`
		JavaOpts    []string      `yaml:"java_opts"`
		SettleDelay time.Duration `yaml:"settle_delay"`
	} `yaml:"jar"`

	Container struct {
		Registry      string `yaml:"registry"`
		RegistryUser  string `yaml:"registry_user"`
		RegistryToken string `yaml:"registry_token"`
		HostPort      int    `yaml:"host_port"`
		ContainerPort int    `yaml:"container_port"`
		RestartPolicy string `yaml:"restart_policy"`
		DockerHost    string `yaml:"docker_host"`
		TransferDir   string `yaml:"transfer_dir"`
	} `yaml:"container"`

	Health struct {
		Path           string        `yaml:"path"`
		Timeout        time.Duration `yaml:"timeout"`
		Interval       time.Duration `yaml:"interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"health"`

	Pipeline struct {
		Timeout             time.Duration `yaml:"timeout"`
		VerifyAfterRollback *bool         `yaml:"verify_after_rollback"`
	} `yaml:"pipeline"`

	State struct {
		Dir string `yaml:"dir"`
	} `yaml:"state"`

	Notify struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notify"`

	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

func Load(path string) (Config, error) {
	var c Config

	c.DefaultEnvironment = "test"
	c.SSH.HostKeyPolicy = HostKeyStrict
	c.SSH.KnownHosts = expandHome("~/.ssh/known_hosts")
	c.SSH.ConnectTimeout = 10 * time.Second
	c.Jar.SettleDelay = 5 * time.Second
	c.Container.RestartPolicy = "unless-stopped"
	c.Health.Path = "/health"
	c.Health.Timeout = 120 * time.Second
	c.Health.Interval = 5 * time.Second
	c.Health.RequestTimeout = 5 * time.Second
	c.Pipeline.Timeout = 30 * time.Minute
	c.State.Dir = expandHome("~/.local/state/rollout")

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return c, err
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("ROLLOUT_JOB"); v != "" {
		c.Job = v
	}

	if v := os.Getenv("ROLLOUT_SSH_KEY"); v != "" {
		c.SSH.KeyFile = v
	}

	if v := os.Getenv("ROLLOUT_HOST_KEY_POLICY"); v != "" {
		c.SSH.HostKeyPolicy = v
	}

	if v := os.Getenv("ROLLOUT_REGISTRY_TOKEN"); v != "" {
		c.Container.RegistryToken = v
	}

	if v := os.Getenv("ROLLOUT_STATE_DIR"); v != "" {
		c.State.Dir = v
	}

	if v := os.Getenv("ROLLOUT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.Timeout = d
		}
	}

	if v := os.Getenv("ROLLOUT_HEALTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Health.Timeout = d
		}
	}

	c.State.Dir = expandHome(c.State.Dir)
	c.SSH.KeyFile = expandHome(c.SSH.KeyFile)
	c.SSH.KnownHosts = expandHome(c.SSH.KnownHosts)

	if c.DefaultEnvironment == "" {
		c.DefaultEnvironment = "test"
	}

	if c.Health.Interval <= 0 {
		c.Health.Interval = 5 * time.Second
	}

	if c.Application == "" {
		c.Application = c.Job
	}

	switch c.SSH.HostKeyPolicy {
	case HostKeyStrict, HostKeyTOFU:
	default:
		return c, fmt.Errorf("ssh.host_key_policy must be %q or %q, got %q", HostKeyStrict, HostKeyTOFU, c.SSH.HostKeyPolicy)
	}

	if len(c.Environments) == 0 {
		return c, errors.New("no environments configured")
	}

	if _, ok := c.Environments[c.DefaultEnvironment]; !ok {
		return c, fmt.Errorf("default environment %q is not configured", c.DefaultEnvironment)
	}

	for name, e := range c.Environments {
		if e.Host == "" {
			return c, fmt.Errorf("environment %s: host is required", name)
		}
		switch domain.Method(e.Method) {
		case "", domain.MethodJar, domain.MethodContainer:
		default:
			return c, fmt.Errorf("environment %s: unknown method %q", name, e.Method)
		}
	}

	return c, nil
}

// Profiles builds the environment→profile table used by the resolver.
func (c Config) Profiles() map[string]domain.ConnectionProfile {
	auth := domain.Auth{
		KeyFile:       c.SSH.KeyFile,
		RegistryUser:  c.Container.RegistryUser,
		RegistryToken: c.Container.RegistryToken,
	}

	out := make(map[string]domain.ConnectionProfile, len(c.Environments))
	for name, e := range c.Environments {
		p := domain.ConnectionProfile{
			Environment:     name,
			Host:            e.Host,
			SSHPort:         e.SSHPort,
			AppPort:         e.AppPort,
			Principal:       e.User,
			Auth:            auth,
			Method:          domain.Method(e.Method),
			ContainerMode:   domain.ContainerMode(e.ContainerMode),
			HealthPath:      e.HealthPath,
			ProbeVia:        e.ProbeVia,
			RequireApproval: name == "prod",
			Frozen:          e.Frozen,
		}
		if e.RequireApproval != nil {
			p.RequireApproval = *e.RequireApproval
		}
		if p.SSHPort == 0 {
			p.SSHPort = 22
		}
		if p.Principal == "" {
			p.Principal = c.SSH.User
		}
		if p.Method == "" {
			p.Method = domain.MethodJar
		}
		if p.ContainerMode == "" {
			p.ContainerMode = domain.ContainerRegistry
		}
		if p.HealthPath == "" {
			p.HealthPath = c.Health.Path
		}
		out[name] = p
	}
	return out
}

func (c Config) VerifyAfterRollback() bool {
	return c.Pipeline.VerifyAfterRollback == nil || *c.Pipeline.VerifyAfterRollback
}

// SetFrozen toggles an environment's frozen flag in the file at path. Only
// what the file holds is written back; environment overrides are not.
func SetFrozen(path, env string, frozen bool) (bool, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}

	e, ok := c.Environments[env]
	if !ok {
		return false, fmt.Errorf("environment %q is not configured", env)
	}
	if e.Frozen == frozen {
		return false, nil
	}
	e.Frozen = frozen
	c.Environments[env] = e

	return true, Save(path, c)
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
