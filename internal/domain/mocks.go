package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MockRemote behaves like a tiny remote host: it tracks copied files,
// background java processes (keyed by jar path, matched by pkill
// pattern suffix) and named containers.
type MockRemote struct {
	mu sync.Mutex

	PingErr  error
	CopyErr  error
	Fail     map[string]CommandResult
	FailErr  map[string]error
	CurlBody string

	Files      map[string]string
	Processes  map[string]string
	Containers map[string]string
	Removed    []string
	Commands   [][]string
}

func NewMockRemote() *MockRemote {
	return &MockRemote{
		Fail:       map[string]CommandResult{},
		FailErr:    map[string]error{},
		Files:      map[string]string{},
		Processes:  map[string]string{},
		Containers: map[string]string{},
	}
}

func (m *MockRemote) Ping(ctx context.Context, p ConnectionProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = append(m.Commands, []string{"echo", "ok"})
	return m.PingErr
}

func (m *MockRemote) Copy(ctx context.Context, p ConnectionProfile, localPath, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CopyErr != nil {
		return m.CopyErr
	}
	m.Files[remotePath] = localPath
	return nil
}

func (m *MockRemote) Remove(ctx context.Context, p ConnectionProfile, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Files, remotePath)
	m.Removed = append(m.Removed, remotePath)
	return nil
}

func (m *MockRemote) Run(ctx context.Context, p ConnectionProfile, cmd Command) (CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = append(m.Commands, cmd.Args)

	key := strings.Join(head(cmd.Args, 2), " ")
	if err, ok := m.FailErr[key]; ok {
		return CommandResult{ExitCode: -1}, err
	}
	if res, ok := m.Fail[key]; ok {
		return res, nil
	}
	if len(cmd.Args) == 0 {
		return CommandResult{ExitCode: 127}, nil
	}

	switch cmd.Args[0] {
	case "pkill":
		sig := cmd.Args[len(cmd.Args)-1]
		killed := false
		for jar := range m.Processes {
			if strings.HasSuffix(sig, jar) {
				delete(m.Processes, jar)
				killed = true
			}
		}
		if !killed {
			return CommandResult{ExitCode: 1}, nil
		}
		return CommandResult{}, nil
	case "java":
		jar := cmd.Args[len(cmd.Args)-1]
		if _, ok := m.Processes[jar]; ok {
			return CommandResult{ExitCode: 1, Stderr: "address already in use"}, nil
		}
		m.Processes[jar] = m.Files[jar]
		return CommandResult{}, nil
	case "curl":
		return CommandResult{Stdout: m.CurlBody}, nil
	case "docker":
		return m.docker(cmd.Args[1:]), nil
	}
	return CommandResult{}, nil
}

func (m *MockRemote) docker(args []string) CommandResult {
	if len(args) == 0 {
		return CommandResult{ExitCode: 1}
	}
	switch args[0] {
	case "ps":
		name := strings.TrimSuffix(strings.TrimPrefix(flagValue(args, "--filter"), "name=^/?"), "$")
		if _, ok := m.Containers[name]; ok {
			return CommandResult{Stdout: "3f2a9c1d7e4b\n"}
		}
	case "rm":
		// like current docker CLIs, -f on a missing container succeeds
		delete(m.Containers, args[len(args)-1])
	case "run":
		name := flagValue(args, "--name")
		if _, ok := m.Containers[name]; ok {
			return CommandResult{ExitCode: 125, Stderr: fmt.Sprintf("Conflict. The container name %q is already in use", name)}
		}
		m.Containers[name] = args[len(args)-1]
	}
	return CommandResult{}
}

// Ran reports whether a command starting with prefix was issued.
func (m *MockRemote) Ran(prefix ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Commands {
		if len(c) >= len(prefix) && strings.Join(c[:len(prefix)], " ") == strings.Join(prefix, " ") {
			return true
		}
	}
	return false
}

func head(s []string, n int) []string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

// MockFetcher returns Errs in order, then succeeds with Body.
type MockFetcher struct {
	Body  string
	Errs  []error
	Calls int
}

func (f *MockFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.Calls++
	if len(f.Errs) > 0 {
		err := f.Errs[0]
		f.Errs = f.Errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.Body, nil
}

// DownFetcher never succeeds.
type DownFetcher struct{ Calls int }

func (f *DownFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.Calls++
	return "", errors.New("connection refused")
}

type MockExporter struct {
	Err      error
	Exported []string
}

func (e *MockExporter) Export(ctx context.Context, image, path string) error {
	if e.Err != nil {
		return e.Err
	}
	e.Exported = append(e.Exported, image+"="+path)
	return nil
}

type MockBuildLog struct {
	mu      sync.Mutex
	Records []BuildRecord
	Err     error
}

func (l *MockBuildLog) Append(ctx context.Context, r BuildRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.Records = append(l.Records, r)
	return nil
}

func (l *MockBuildLog) List(ctx context.Context, job string) ([]BuildRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var own []BuildRecord
	for _, r := range l.Records {
		if r.Job == job {
			own = append(own, r)
		}
	}
	return Fold(own), nil
}

func (l *MockBuildLog) LatestSuccessBelow(ctx context.Context, job, env string, below int64) (BuildRecord, bool, error) {
	list, err := l.List(ctx, job)
	if err != nil {
		return BuildRecord{}, false, err
	}
	r, ok := LatestSuccess(list, env, below)
	return r, ok, nil
}

// MockArchive serves jar builds from Paths, keyed by build number.
type MockArchive struct {
	Paths    map[int64]string
	Stored   []BuildRecord
	StoreErr error
}

func (a *MockArchive) Store(ctx context.Context, r BuildRecord) (BuildRecord, error) {
	if a.StoreErr != nil {
		return r, a.StoreErr
	}
	r.Archived = true
	a.Stored = append(a.Stored, r)
	return r, nil
}

func (a *MockArchive) Fetch(ctx context.Context, r BuildRecord) (string, error) {
	if r.Method != MethodJar {
		return r.Locator, nil
	}
	p, ok := a.Paths[r.BuildNumber]
	if !ok {
		return "", fmt.Errorf("build %d not archived", r.BuildNumber)
	}
	return p, nil
}

type MockApprover struct {
	Err     error
	Calls   int
	OnAwait func()
}

func (a *MockApprover) Await(ctx context.Context, job string, build int64) error {
	a.Calls++
	if a.OnAwait != nil {
		a.OnAwait()
	}
	return a.Err
}

type MockLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *MockLock) TryLock(job string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[job] {
		return nil, ErrRunInProgress
	}
	l.held[job] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, job)
	}, nil
}

type MockNotifier struct {
	Messages []string
	Err      error
}

func (n *MockNotifier) Notify(ctx context.Context, title, body, url string) error {
	n.Messages = append(n.Messages, title+"|"+body+"|"+url)
	return n.Err
}
