package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
)

const defaultDockerTimeout = 60 * time.Second

// dockerAPI is the subset of Docker client operations the adapter uses.
// The narrowed surface keeps tests daemon-free.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]dockertypes.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (string, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
}

// dockerClientAdapter narrows the official client to the dockerAPI surface.
type dockerClientAdapter struct {
	api *client.Client
}

func (a *dockerClientAdapter) ContainerList(ctx context.Context, options container.ListOptions) ([]dockertypes.Container, error) {
	return a.api.ContainerList(ctx, options)
}

func (a *dockerClientAdapter) ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error) {
	return a.api.ContainerInspect(ctx, containerID)
}

func (a *dockerClientAdapter) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	return a.api.ImagePull(ctx, refStr, options)
}

func (a *dockerClientAdapter) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	return a.api.ContainerStop(ctx, containerID, options)
}

func (a *dockerClientAdapter) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return a.api.ContainerRemove(ctx, containerID, options)
}

func (a *dockerClientAdapter) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, containerName string) (string, error) {
	created, err := a.api.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *dockerClientAdapter) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return a.api.ContainerStart(ctx, containerID, options)
}

// Docker is an ExecutionBackend that moves a standalone container onto a
// new image tag by recreating it. The release name is the container name.
// Rollback recreates on the tag the container ran before the last upgrade
// through this adapter; a container runtime has no native revision log.
type Docker struct {
	api     dockerAPI
	logger  zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	previous map[string][]Revision
}

// NewDocker initializes a Docker backend for the given API host.
func NewDocker(host string, timeout time.Duration, logger zerolog.Logger) (*Docker, error) {
	if timeout <= 0 {
		timeout = defaultDockerTimeout
	}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &Docker{
		api:      &dockerClientAdapter{api: api},
		logger:   logger,
		timeout:  timeout,
		previous: map[string][]Revision{},
	}, nil
}

// newDockerWithAPI wires an arbitrary dockerAPI (for tests).
func newDockerWithAPI(api dockerAPI, logger zerolog.Logger) *Docker {
	return &Docker{
		api:      api,
		logger:   logger,
		timeout:  defaultDockerTimeout,
		previous: map[string][]Revision{},
	}
}

// Upgrade implements ExecutionBackend: pull the target tag, then recreate
// the container with its prior configuration on the new image.
func (d *Docker) Upgrade(ctx context.Context, req UpgradeRequest) UpdateResult {
	start := time.Now()

	prior, err := d.findContainer(ctx, req.Release)
	if err != nil {
		return d.failed(start, fmt.Sprintf("locate container %s: %v", req.Release, err), err)
	}

	currentImage := NormalizeImage(prior.Config.Image)
	targetImage := WithTag(currentImage, req.Version)

	if req.Options.DryRun {
		return UpdateResult{
			Success:  true,
			Status:   StatusPending,
			Duration: time.Since(start),
			Message:  fmt.Sprintf("dry run: would recreate %s on %s", req.Release, targetImage),
		}
	}

	if err := d.pull(ctx, targetImage); err != nil {
		return d.failed(start, fmt.Sprintf("pull %s: %v", targetImage, err), err)
	}

	if err := d.recreate(ctx, prior, targetImage, req.Release); err != nil {
		return d.failed(start, fmt.Sprintf("recreate %s on %s: %v", req.Release, targetImage, err), err)
	}

	d.remember(req.Release, currentImage)
	d.logger.Info().Str("container", req.Release).Str("image", targetImage).Msg("container recreated on new image")
	return UpdateResult{
		Success:  true,
		Status:   StatusSuccess,
		Duration: time.Since(start),
		Message:  fmt.Sprintf("successfully recreated %s on %s", req.Release, targetImage),
	}
}

// Rollback implements ExecutionBackend: recreate the container on the
// image it ran before the last upgrade.
func (d *Docker) Rollback(ctx context.Context, req RollbackRequest) UpdateResult {
	start := time.Now()

	previousImage, ok := d.recall(req.Release, req.Revision)
	if !ok {
		err := fmt.Errorf("no recorded previous image for %s", req.Release)
		return d.failed(start, err.Error(), err)
	}

	prior, err := d.findContainer(ctx, req.Release)
	if err != nil {
		return d.failed(start, fmt.Sprintf("locate container %s: %v", req.Release, err), err)
	}

	if err := d.recreate(ctx, prior, previousImage, req.Release); err != nil {
		return d.failed(start, fmt.Sprintf("recreate %s on %s: %v", req.Release, previousImage, err), err)
	}

	d.logger.Info().Str("container", req.Release).Str("image", previousImage).Msg("container rolled back")
	return UpdateResult{
		Success:  true,
		Status:   StatusRolledBack,
		Duration: time.Since(start),
		Message:  fmt.Sprintf("rolled back %s to %s", req.Release, previousImage),
	}
}

// History implements ExecutionBackend from the adapter's in-process record.
func (d *Docker) History(ctx context.Context, release, namespace string, max int) ([]Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	revisions := d.previous[release]
	if max > 0 && len(revisions) > max {
		revisions = revisions[len(revisions)-max:]
	}
	return append([]Revision(nil), revisions...), nil
}

func (d *Docker) findContainer(ctx context.Context, name string) (dockertypes.ContainerJSON, error) {
	listCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	containers, err := d.api.ContainerList(listCtx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return dockertypes.ContainerJSON{}, err
	}
	if len(containers) == 0 {
		return dockertypes.ContainerJSON{}, fmt.Errorf("container %q not found", name)
	}
	return d.api.ContainerInspect(ctx, containers[0].ID)
}

func (d *Docker) pull(ctx context.Context, ref string) error {
	reader, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	// The pull completes only once the response stream is drained.
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *Docker) recreate(ctx context.Context, prior dockertypes.ContainerJSON, targetImage, name string) error {
	stopTimeout := int(d.timeout.Seconds())
	if err := d.api.ContainerStop(ctx, prior.ID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := d.api.ContainerRemove(ctx, prior.ID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	config := *prior.Config
	config.Image = targetImage
	config.ExposedPorts = clonePortSet(prior.Config.ExposedPorts)

	var hostConfig *container.HostConfig
	if prior.HostConfig != nil {
		cloned := *prior.HostConfig
		cloned.PortBindings = clonePortMap(prior.HostConfig.PortBindings)
		hostConfig = &cloned
	}

	createdID, err := d.api.ContainerCreate(ctx, &config, hostConfig, name)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if err := d.api.ContainerStart(ctx, createdID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

func (d *Docker) remember(release, previousImage string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	revisions := d.previous[release]
	d.previous[release] = append(revisions, Revision{
		Revision: len(revisions) + 1,
		Updated:  time.Now().UTC().Format(time.RFC3339),
		Status:   "superseded",
		Chart:    previousImage,
	})
}

func (d *Docker) recall(release string, revision int) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	revisions := d.previous[release]
	if len(revisions) == 0 {
		return "", false
	}
	if revision > 0 {
		for _, r := range revisions {
			if r.Revision == revision {
				return r.Chart, true
			}
		}
		return "", false
	}
	return revisions[len(revisions)-1].Chart, true
}

func (d *Docker) failed(start time.Time, message string, err error) UpdateResult {
	d.logger.Error().Err(err).Msg(message)
	return UpdateResult{
		Success:  false,
		Status:   StatusFailed,
		Duration: time.Since(start),
		Message:  message,
		Err:      err,
	}
}

func clonePortSet(ports nat.PortSet) nat.PortSet {
	if ports == nil {
		return nil
	}
	cloned := make(nat.PortSet, len(ports))
	for port := range ports {
		cloned[port] = struct{}{}
	}
	return cloned
}

func clonePortMap(bindings nat.PortMap) nat.PortMap {
	if bindings == nil {
		return nil
	}
	cloned := make(nat.PortMap, len(bindings))
	for port, hostBindings := range bindings {
		cloned[port] = append([]nat.PortBinding(nil), hostBindings...)
	}
	return cloned
}
