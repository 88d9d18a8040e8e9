package cli

import (
	"path/filepath"
	"sort"

	"github.com/davarch/rollout/internal/application"
	"github.com/davarch/rollout/internal/domain"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/davarch/rollout/internal/infrastructure/docker_local"
	"github.com/davarch/rollout/internal/infrastructure/metrics_prom"
	"github.com/davarch/rollout/internal/infrastructure/notify_libnotify"
	"github.com/davarch/rollout/internal/infrastructure/probe_http"
	"github.com/davarch/rollout/internal/infrastructure/ssh_remote"
	"github.com/davarch/rollout/internal/infrastructure/store_fs"
	"go.uber.org/zap"
)

// app holds the adapters shared by the commands that touch remote hosts.
type app struct {
	log      *zap.Logger
	cfg      config.Config
	channel  *ssh_remote.Channel
	docker   *docker_local.Client
	resolver *application.Resolver
	exec     *application.Executor
	verifier *application.Verifier
	rollback *application.RollbackManager
	builds   *store_fs.BuildLog
	archive  *store_fs.Archive
	metrics  *metrics_prom.Recorder
}

func newApp(log *zap.Logger, cfg config.Config) *app {
	a := &app{
		log:     log,
		cfg:     cfg,
		builds:  store_fs.NewBuildLog(cfg.State.Dir),
		archive: store_fs.NewArchive(cfg.State.Dir),
		metrics: metrics_prom.New(),
	}

	keys := ssh_remote.NewHostKeys(log, cfg.SSH.KnownHosts, cfg.SSH.HostKeyPolicy == config.HostKeyTOFU)
	a.channel = ssh_remote.New(log, keys, cfg.SSH.ConnectTimeout)

	profiles := cfg.Profiles()

	var images domain.ImageExporter
	if dc, err := docker_local.New(cfg.Container.DockerHost); err != nil {
		log.Warn("local docker unavailable, transfer mode disabled", zap.Error(err))
	} else {
		a.docker = dc
		images = dc
		if envs := transferEnvironments(profiles); len(envs) > 0 {
			a.archive.WithImages(dc, envs...)
		}
	}

	a.resolver = application.NewResolver(cfg.DefaultEnvironment, cfg.Branches, profiles)

	a.exec = application.NewExecutor(log, a.channel, images, cfg.Application,
		application.JarSettings{
			RemoteDir:   cfg.Jar.RemoteDir,
			RemoteName:  cfg.Jar.RemoteName,
			LogFile:     cfg.Jar.LogFile,
			JavaOpts:    cfg.Jar.JavaOpts,
			SettleDelay: cfg.Jar.SettleDelay,
		},
		application.ContainerSettings{
			Registry:      cfg.Container.Registry,
			HostPort:      cfg.Container.HostPort,
			ContainerPort: cfg.Container.ContainerPort,
			RestartPolicy: cfg.Container.RestartPolicy,
			TransferDir:   cfg.Container.TransferDir,
		},
	)

	a.verifier = application.NewVerifier(
		application.NewProber(log),
		probe_http.New(cfg.Health.RequestTimeout),
		a.viaHost,
		cfg.Health.Timeout,
		cfg.Health.Interval,
	)

	var rv *application.Verifier
	if cfg.VerifyAfterRollback() {
		rv = a.verifier
	}
	a.rollback = application.NewRollbackManager(log, a.builds, a.archive, a.exec, rv)

	return a
}

// transferEnvironments lists container environments that receive images
// without a registry; their builds are archived as image tarballs.
func transferEnvironments(profiles map[string]domain.ConnectionProfile) []string {
	var out []string
	for name, p := range profiles {
		if p.Method == domain.MethodContainer && p.ContainerMode == domain.ContainerTransfer {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (a *app) viaHost(p domain.ConnectionProfile) domain.Fetcher {
	return probe_http.NewRemote(a.channel, p, a.cfg.Health.RequestTimeout)
}

func (a *app) notifier() domain.Notifier {
	if !a.cfg.Notify.Enabled {
		return nil
	}
	return notify_libnotify.NewSoft(notify_libnotify.Options{})
}

func (a *app) approvalsDir() string {
	return filepath.Join(a.cfg.State.Dir, "approvals")
}

// flushMetrics writes the node-exporter textfile when one is configured.
func (a *app) flushMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.log.Warn("write metrics textfile", zap.String("path", a.cfg.Metrics.Textfile), zap.Error(err))
	}
}

func (a *app) close() {
	_ = a.channel.Close()
	if a.docker != nil {
		_ = a.docker.Close()
	}
}

// targetProfile looks up env and applies --host/--user overrides.
func (a *app) targetProfile(env, host, user string) (domain.ConnectionProfile, error) {
	p, ok := a.resolver.Environment(env)
	if !ok {
		return p, domain.Configuration("resolve", errUnknownEnv(env))
	}
	if host != "" {
		p.Host = host
	}
	if user != "" {
		p.Principal = user
	}
	return p, nil
}
