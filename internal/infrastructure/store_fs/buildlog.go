package store_fs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/davarch/rollout/internal/domain"
)

// BuildLog is an append-only JSON lines file per job. A record's state is
// the last line written for its build number.
type BuildLog struct {
	dir string
}

func NewBuildLog(dir string) *BuildLog { return &BuildLog{dir: dir} }

func (l *BuildLog) path(job string) string {
	return filepath.Join(l.dir, "builds", domain.SafeName(job)+".jsonl")
}

func (l *BuildLog) Append(_ context.Context, r domain.BuildRecord) error {
	if r.Job == "" {
		return errors.New("build record without job")
	}

	p := l.path(r.Job)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	if torn(p) {
		b = append([]byte{'\n'}, b...)
	}
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}

// torn reports whether the file does not end in a newline, which happens
// when a writer died mid-record.
func torn(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return false
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false
	}
	return last[0] != '\n'
}

func (l *BuildLog) List(_ context.Context, job string) ([]domain.BuildRecord, error) {
	f, err := os.Open(l.path(job))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH); err != nil {
		return nil, err
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	var recs []domain.BuildRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var r domain.BuildRecord
		// a torn trailing line is skipped rather than failing the lineage
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.BuildNumber == 0 {
			continue
		}
		recs = append(recs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return domain.Fold(recs), nil
}

func (l *BuildLog) LatestSuccessBelow(ctx context.Context, job, env string, below int64) (domain.BuildRecord, bool, error) {
	recs, err := l.List(ctx, job)
	if err != nil {
		return domain.BuildRecord{}, false, err
	}
	r, ok := domain.LatestSuccess(recs, env, below)
	return r, ok, nil
}
