package docker_local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/davarch/rollout/internal/domain"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

type api interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageSave(ctx context.Context, imageIDs []string) (io.ReadCloser, error)
	ImageLoad(ctx context.Context, input io.Reader, quiet bool) (image.LoadResponse, error)
	Close() error
}

// Client exports images from the local Docker daemon for registry-less
// delivery.
type Client struct {
	inner api
}

// New creates a client using environment defaults, optionally pinned to host.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Export writes `docker save` output for image to path. A missing image is
// a configuration error: there is nothing to deliver.
func (c *Client) Export(ctx context.Context, image, path string) error {
	if strings.TrimSpace(image) == "" {
		return domain.Configuration("export image", fmt.Errorf("image tag cannot be empty"))
	}

	if _, _, err := c.inner.ImageInspectWithRaw(ctx, image); err != nil {
		if client.IsErrNotFound(err) {
			return domain.Configuration("export image", fmt.Errorf("image %s not found locally", image))
		}
		return fmt.Errorf("docker image inspect: %w", err)
	}

	rc, err := c.inner.ImageSave(ctx, []string{image})
	if err != nil {
		return fmt.Errorf("docker image save: %w", err)
	}
	defer func() { _ = rc.Close() }()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Import loads a tar written by Export back into the daemon.
func (c *Client) Import(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	resp, err := c.inner.ImageLoad(ctx, f, true)
	if err != nil {
		return fmt.Errorf("docker image load: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("docker image load: %w", err)
	}
	return nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
