package docker_local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davarch/rollout/internal/domain"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
)

type fakeAPI struct {
	images map[string]string
	loaded []string
}

func (f *fakeAPI) ImageInspectWithRaw(ctx context.Context, id string) (types.ImageInspect, []byte, error) {
	if _, ok := f.images[id]; !ok {
		return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("No such image: " + id))
	}
	return types.ImageInspect{ID: id}, nil, nil
}

func (f *fakeAPI) ImageSave(ctx context.Context, ids []string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.images[ids[0]])), nil
}

func (f *fakeAPI) ImageLoad(ctx context.Context, r io.Reader, quiet bool) (image.LoadResponse, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return image.LoadResponse{}, err
	}
	f.loaded = append(f.loaded, string(b))
	return image.LoadResponse{Body: io.NopCloser(strings.NewReader(`{"stream":"Loaded image"}`))}, nil
}

func (f *fakeAPI) Close() error { return nil }

func TestExport_WritesTar(t *testing.T) {
	c := &Client{inner: &fakeAPI{images: map[string]string{"orders:7": "tar-bytes"}}}
	path := filepath.Join(t.TempDir(), "out", "orders_7.tar")

	if err := c.Export(context.Background(), "orders:7", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "tar-bytes" {
		t.Fatalf("unexpected file content %q %v", b, err)
	}
}

func TestExport_MissingImageIsConfigurationError(t *testing.T) {
	c := &Client{inner: &fakeAPI{images: map[string]string{}}}

	err := c.Export(context.Background(), "orders:8", filepath.Join(t.TempDir(), "x.tar"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestImport_LoadsExportedTar(t *testing.T) {
	api := &fakeAPI{images: map[string]string{"orders:7": "tar-bytes"}}
	c := &Client{inner: api}
	path := filepath.Join(t.TempDir(), "image.tar")

	if err := c.Export(context.Background(), "orders:7", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Import(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.loaded) != 1 || api.loaded[0] != "tar-bytes" {
		t.Fatalf("unexpected loads %v", api.loaded)
	}
}

func TestImport_MissingFile(t *testing.T) {
	c := &Client{inner: &fakeAPI{}}

	if err := c.Import(context.Background(), filepath.Join(t.TempDir(), "absent.tar")); err == nil {
		t.Fatal("expected error for missing tar")
	}
}
