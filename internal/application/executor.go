package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"go.uber.org/zap"
)

type JarSettings struct {
	RemoteDir   string
	RemoteName  string
	LogFile     string
	JavaOpts    []string
	SettleDelay time.Duration
}

type ContainerSettings struct {
	Registry      string
	HostPort      int
	ContainerPort int
	RestartPolicy string
	TransferDir   string
	RemoteTmpDir  string
}

type Deployer interface {
	Deploy(ctx context.Context, a domain.DeploymentAttempt) error
}

// Executor delivers an artifact to the single instance named for
// (application, environment), replacing whatever runs there.
type Executor struct {
	log       *zap.Logger
	remote    domain.RemoteChannel
	images    domain.ImageExporter
	app       string
	jar       JarSettings
	container ContainerSettings
}

func NewExecutor(log *zap.Logger, remote domain.RemoteChannel, images domain.ImageExporter, app string, jar JarSettings, ctr ContainerSettings) *Executor {
	if jar.RemoteName == "" {
		jar.RemoteName = "app.jar"
	}
	if ctr.RestartPolicy == "" {
		ctr.RestartPolicy = "unless-stopped"
	}
	if ctr.RemoteTmpDir == "" {
		ctr.RemoteTmpDir = "/tmp"
	}
	return &Executor{log: log, remote: remote, images: images, app: app, jar: jar, container: ctr}
}

func (e *Executor) Deploy(ctx context.Context, a domain.DeploymentAttempt) error {
	ref := strings.TrimSpace(a.Record.Locator)
	method := a.Method
	if method == "" {
		method = a.Profile.Method
	}

	log := e.log.With(
		zap.String("env", a.Profile.Environment),
		zap.String("host", a.Profile.Host),
		zap.String("method", string(method)),
		zap.Int64("build", a.Record.BuildNumber),
	)

	switch method {
	case domain.MethodJar:
		if ref == "" {
			return domain.Configuration("deploy", errors.New("artifact path is empty"))
		}
		if _, err := os.Stat(ref); err != nil {
			return domain.Configuration("deploy", fmt.Errorf("artifact %s: %w", ref, err))
		}
	case domain.MethodContainer:
		if ref == "" {
			return domain.Configuration("deploy", errors.New("image reference is empty"))
		}
	default:
		return domain.Configuration("deploy", fmt.Errorf("unknown delivery method %q", method))
	}

	if err := e.remote.Ping(ctx, a.Profile); err != nil {
		return connectivity("preflight", err)
	}

	log.Info("deploying", zap.String("ref", ref))

	if method == domain.MethodJar {
		return e.deployJar(ctx, log, a.Profile, ref)
	}
	return e.deployContainer(ctx, log, a.Profile, ref)
}

func (e *Executor) JarPath(env string) string {
	dir := e.jar.RemoteDir
	if dir == "" {
		dir = path.Join("/opt", e.app)
	}
	return path.Join(dir, env, e.jar.RemoteName)
}

func (e *Executor) ContainerName(env string) string {
	return e.app + "-" + env
}

func (e *Executor) deployJar(ctx context.Context, log *zap.Logger, p domain.ConnectionProfile, local string) error {
	target := e.JarPath(p.Environment)

	if err := e.exec(ctx, p, "mkdir", "mkdir", "-p", path.Dir(target)); err != nil {
		return err
	}
	if err := e.remote.Copy(ctx, p, local, target); err != nil {
		return delivery("copy artifact", err)
	}

	out, err := e.stopProcess(ctx, p, target)
	log.Info("previous process", zap.Stringer("stop", out))
	if err != nil {
		return err
	}

	if out == domain.StopWasRunning && e.jar.SettleDelay > 0 {
		select {
		case <-time.After(e.jar.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logFile := e.jar.LogFile
	if logFile == "" {
		logFile = path.Join(path.Dir(target), e.app+".log")
	}

	args := append([]string{"java"}, e.jar.JavaOpts...)
	args = append(args, "-jar", target)
	res, err := e.remote.Run(ctx, p, domain.Command{Args: args, Background: true, LogFile: logFile})
	if err != nil {
		return classify("start process", err)
	}
	if res.ExitCode != 0 {
		return delivery("start process", exitErr(res))
	}

	log.Info("process started", zap.String("jar", target), zap.String("log", logFile))
	return nil
}

// launchPattern matches the started java process but not the remote shell
// that runs pkill with the pattern in its own command line.
func launchPattern(jar string) string {
	return "[j]ava .*-jar " + jar
}

func (e *Executor) stopProcess(ctx context.Context, p domain.ConnectionProfile, jar string) (domain.StopOutcome, error) {
	res, err := e.remote.Run(ctx, p, domain.Command{Args: []string{"pkill", "-f", launchPattern(jar)}})
	if err != nil {
		return domain.StopFailed, classify("stop process", err)
	}
	switch res.ExitCode {
	case 0:
		return domain.StopWasRunning, nil
	case 1:
		return domain.StopWasNotRunning, nil
	default:
		return domain.StopFailed, delivery("stop process", exitErr(res))
	}
}

func (e *Executor) deployContainer(ctx context.Context, log *zap.Logger, p domain.ConnectionProfile, image string) error {
	name := e.ContainerName(p.Environment)

	if p.ContainerMode == domain.ContainerTransfer {
		if err := e.transferImage(ctx, log, p, image); err != nil {
			return err
		}
	} else {
		image = e.qualify(image)
	}

	out, err := e.removeContainer(ctx, p, name)
	log.Info("previous container", zap.String("name", name), zap.Stringer("stop", out))
	if err != nil {
		return err
	}

	if p.ContainerMode != domain.ContainerTransfer {
		if err := e.login(ctx, p); err != nil {
			return err
		}
		if err := e.exec(ctx, p, "pull image", "docker", "pull", image); err != nil {
			return err
		}
	}

	port := e.container.ContainerPort
	if port == 0 {
		port = p.AppPort
	}
	hostPort := e.container.HostPort
	if hostPort == 0 {
		hostPort = p.AppPort
	}

	if err := e.exec(ctx, p, "run container",
		"docker", "run", "-d",
		"--name", name,
		"--restart", e.container.RestartPolicy,
		"-p", strconv.Itoa(hostPort)+":"+strconv.Itoa(port),
		image,
	); err != nil {
		return err
	}

	log.Info("container started", zap.String("name", name), zap.String("image", image))
	return nil
}

func (e *Executor) qualify(image string) string {
	reg := strings.TrimSuffix(e.container.Registry, "/")
	if reg == "" || strings.HasPrefix(image, reg+"/") {
		return image
	}
	return reg + "/" + image
}

func (e *Executor) login(ctx context.Context, p domain.ConnectionProfile) error {
	if p.Auth.RegistryToken == "" || e.container.Registry == "" {
		return nil
	}
	user := p.Auth.RegistryUser
	if user == "" {
		user = "oauth2accesstoken"
	}
	res, err := e.remote.Run(ctx, p, domain.Command{
		Args:  []string{"docker", "login", "-u", user, "--password-stdin", e.container.Registry},
		Stdin: []byte(p.Auth.RegistryToken),
	})
	if err != nil {
		return classify("registry login", err)
	}
	if res.ExitCode != 0 {
		return delivery("registry login", exitErr(res))
	}
	return nil
}

func (e *Executor) transferImage(ctx context.Context, log *zap.Logger, p domain.ConnectionProfile, image string) error {
	if e.images == nil {
		return domain.Configuration("transfer image", errors.New("no local container runtime configured"))
	}

	file := strings.NewReplacer("/", "_", ":", "_", "@", "_").Replace(image) + ".tar"
	dir := e.container.TransferDir
	if dir == "" {
		dir = os.TempDir()
	}
	local := filepath.Join(dir, file)
	remote := path.Join(e.container.RemoteTmpDir, file)

	if err := e.images.Export(ctx, image, local); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return err
		}
		return delivery("export image", err)
	}
	defer func() {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			log.Warn("remove transfer file", zap.String("path", local), zap.Error(err))
		}
	}()

	if err := e.remote.Copy(ctx, p, local, remote); err != nil {
		return delivery("copy image", err)
	}
	if err := e.exec(ctx, p, "load image", "docker", "load", "-i", remote); err != nil {
		return err
	}
	if err := e.remote.Remove(ctx, p, remote); err != nil {
		log.Warn("remove remote transfer file", zap.String("path", remote), zap.Error(err))
	}
	return nil
}

// removeContainer looks the container up before removing it: `docker rm -f`
// succeeds for missing containers too, so its exit code cannot tell the
// outcomes apart.
func (e *Executor) removeContainer(ctx context.Context, p domain.ConnectionProfile, name string) (domain.StopOutcome, error) {
	res, err := e.remote.Run(ctx, p, domain.Command{Args: []string{"docker", "ps", "-aq", "--filter", "name=^/?" + name + "$"}})
	if err != nil {
		return domain.StopFailed, classify("inspect container", err)
	}
	if res.ExitCode != 0 {
		return domain.StopFailed, delivery("inspect container", exitErr(res))
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return domain.StopWasNotRunning, nil
	}

	if err := e.exec(ctx, p, "remove container", "docker", "rm", "-f", name); err != nil {
		return domain.StopFailed, err
	}
	return domain.StopWasRunning, nil
}

func (e *Executor) exec(ctx context.Context, p domain.ConnectionProfile, op string, args ...string) error {
	res, err := e.remote.Run(ctx, p, domain.Command{Args: args})
	if err != nil {
		return classify(op, err)
	}
	if res.ExitCode != 0 {
		return delivery(op, exitErr(res))
	}
	return nil
}

func exitErr(res domain.CommandResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	return fmt.Errorf("exit %d: %s", res.ExitCode, msg)
}

// classify keeps connectivity failures as they are and treats everything
// else coming back from the channel as a delivery failure.
func classify(op string, err error) error {
	if errors.Is(err, domain.ErrConnectivity) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.Delivery(op, err)
}

func connectivity(op string, err error) error {
	if errors.Is(err, domain.ErrConnectivity) {
		return err
	}
	return domain.Connectivity(op, err)
}

func delivery(op string, err error) error {
	if errors.Is(err, domain.ErrConnectivity) {
		return err
	}
	return domain.Delivery(op, err)
}
