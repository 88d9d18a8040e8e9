package store_fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davarch/rollout/internal/domain"
)

const imageFile = "image.tar"

// Archive keeps one artifact per successful jar build under
// <dir>/archive/<job>/<build>/. Container builds are addressed by image
// reference; for environments registered with WithImages the image itself
// is saved next to the record and loaded back on Fetch.
type Archive struct {
	dir       string
	images    domain.ImageStore
	imageEnvs map[string]bool
}

func NewArchive(dir string) *Archive { return &Archive{dir: dir} }

// WithImages saves container images of builds deployed to envs, so rolling
// back does not depend on the local daemon still holding them.
func (a *Archive) WithImages(s domain.ImageStore, envs ...string) *Archive {
	a.images = s
	a.imageEnvs = make(map[string]bool, len(envs))
	for _, e := range envs {
		a.imageEnvs[e] = true
	}
	return a
}

func (a *Archive) buildDir(job string, build int64) string {
	return filepath.Join(a.dir, "archive", domain.SafeName(job), strconv.FormatInt(build, 10))
}

// Store archives r's artifact and returns r marked as archived.
func (a *Archive) Store(ctx context.Context, r domain.BuildRecord) (domain.BuildRecord, error) {
	dir := a.buildDir(r.Job, r.BuildNumber)

	switch r.Method {
	case domain.MethodJar:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return r, err
		}
		dst := filepath.Join(dir, filepath.Base(r.ArtifactRef))
		if err := copyFile(r.ArtifactRef, dst); err != nil {
			return r, fmt.Errorf("archive build %d: %w", r.BuildNumber, err)
		}
		r.Locator = dst
	case domain.MethodContainer:
		if r.Locator == "" {
			return r, fmt.Errorf("archive build %d: no image reference", r.BuildNumber)
		}
		if a.images != nil && a.imageEnvs[r.Environment] {
			if err := a.images.Export(ctx, r.Locator, filepath.Join(dir, imageFile)); err != nil {
				return r, fmt.Errorf("archive image of build %d: %w", r.BuildNumber, err)
			}
		}
	default:
		return r, fmt.Errorf("archive build %d: unknown method %q", r.BuildNumber, r.Method)
	}

	r.Archived = true
	return r, nil
}

func (a *Archive) Fetch(ctx context.Context, r domain.BuildRecord) (string, error) {
	dir := a.buildDir(r.Job, r.BuildNumber)

	if r.Method != domain.MethodJar {
		if r.Locator == "" {
			return "", fmt.Errorf("build %d has no image reference", r.BuildNumber)
		}
		tar := filepath.Join(dir, imageFile)
		if _, err := os.Stat(tar); err == nil && a.images != nil {
			if err := a.images.Import(ctx, tar); err != nil {
				return "", fmt.Errorf("restore image of build %d: %w", r.BuildNumber, err)
			}
		}
		return r.Locator, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("build %d not archived: %w", r.BuildNumber, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".tmp") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("build %d not archived: empty %s", r.BuildNumber, dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
