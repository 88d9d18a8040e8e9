package store_fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/davarch/rollout/internal/domain"
)

// RunLock gives one pipeline run per job at a time across processes.
type RunLock struct {
	dir string
}

func NewRunLock(dir string) *RunLock { return &RunLock{dir: dir} }

func (l *RunLock) TryLock(job string) (func(), error) {
	dir := filepath.Join(l.dir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, domain.SafeName(job)+".lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("job %s: %w", job, domain.ErrRunInProgress)
		}
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
