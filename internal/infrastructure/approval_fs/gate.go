package approval_fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const denied = "deny"

// Gate waits for an operator decision written as a marker file
// <dir>/<job>-<build>, with the job name made path-safe. The file holds "approve" or "deny" plus an optional
// author. There is no timeout; only ctx ends the wait.
type Gate struct {
	log  *zap.Logger
	dir  string
	poll time.Duration
}

func New(log *zap.Logger, dir string) *Gate {
	return &Gate{log: log, dir: dir, poll: 30 * time.Second}
}

func markerPath(dir, job string, build int64) string {
	return filepath.Join(dir, domain.SafeName(job)+"-"+strconv.FormatInt(build, 10))
}

// Decide records an approval or denial for a pending run.
func Decide(dir, job string, build int64, approve bool, by string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	word := "approve"
	if !approve {
		word = denied
	}

	path := markerPath(dir, job, build)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(word+" "+by+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (g *Gate) Await(ctx context.Context, job string, build int64) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return err
	}
	path := markerPath(g.dir, job, build)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(g.dir); err != nil {
		return fmt.Errorf("watch %s: %w", g.dir, err)
	}

	// watch first, then look, so a decision landing in between is not lost
	if done, err := g.check(path); done {
		return err
	}

	g.log.Info("waiting for approval",
		zap.String("job", job),
		zap.Int64("build", build),
		zap.String("marker", path),
	)

	// events can be dropped on some filesystems; a slow poll backs them up
	t := time.NewTicker(g.poll)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("approval watcher closed")
			}
			if ev.Name != path || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if done, err := g.check(path); done {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("approval watcher closed")
			}
			g.log.Warn("fsnotify error", zap.Error(err))
		case <-t.C:
			if done, err := g.check(path); done {
				return err
			}
		}
	}
}

func (g *Gate) check(path string) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return true, err
	}

	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return false, nil
	}
	by := strings.Join(fields[1:], " ")

	_ = os.Remove(path)
	if fields[0] == denied {
		return true, fmt.Errorf("%w by %s", domain.ErrApprovalDenied, by)
	}
	g.log.Info("approved", zap.String("by", by))
	return true, nil
}
