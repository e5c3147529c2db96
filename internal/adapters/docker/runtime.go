package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"k8s.io/utils/clock"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
)

const (
	labelManaged  = "censord.managed"
	labelWorkerID = "censord.worker_id"
	namePrefix    = "censord-worker-"
)

// dockerAPI is the subset of the Docker client the runtime needs.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Runtime runs worker agents as Docker containers.
type Runtime struct {
	cli    dockerAPI
	logger *slog.Logger
	spec   domain.WorkerSpec
	clock  clock.PassiveClock
}

type Option func(*Runtime)

// WithClock sets the clock used to stamp StartedAt.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Runtime) { r.clock = c }
}

var _ ports.WorkerRuntime = (*Runtime)(nil)

// NewRuntime creates a Docker runtime using the environment's Docker settings.
func NewRuntime(logger *slog.Logger, spec domain.WorkerSpec, opts ...Option) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newRuntime(cli, logger, spec, opts...), nil
}

func newRuntime(cli dockerAPI, logger *slog.Logger, spec domain.WorkerSpec, opts ...Option) *Runtime {
	if spec.Network == "" {
		spec.Network = "host"
	}
	r := &Runtime{cli: cli, logger: logger, spec: spec, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func containerName(id domain.ProcessID) string {
	return namePrefix + string(id)
}

func (r *Runtime) Start(ctx context.Context) (domain.WorkerProcess, error) {
	id := domain.ProcessID(uuid.New().String())

	env := make([]string, 0, len(r.spec.Env))
	for k, v := range r.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{
		Image: r.spec.Image,
		Cmd:   r.spec.Args,
		Env:   env,
		Labels: map[string]string{
			labelManaged:  "true",
			labelWorkerID: string(id),
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    container.NetworkMode(r.spec.Network),
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m",
		},
	}
	netCfg := &network.NetworkingConfig{}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, containerName(id))
	if client.IsErrNotFound(err) {
		r.logger.Info("pulling worker image", "image", r.spec.Image)
		reader, pullErr := r.cli.ImagePull(ctx, r.spec.Image, image.PullOptions{})
		if pullErr != nil {
			return domain.WorkerProcess{}, fmt.Errorf("failed to pull image %s: %w", r.spec.Image, pullErr)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, containerName(id))
	}
	if err != nil {
		return domain.WorkerProcess{}, fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return domain.WorkerProcess{}, fmt.Errorf("failed to start container: %w", err)
	}

	return domain.WorkerProcess{
		ID:          id,
		Runtime:     domain.RuntimeDocker,
		ContainerID: resp.ID,
		StartedAt:   r.clock.Now(),
	}, nil
}

// Stop lets Docker deliver SIGTERM and SIGKILL after grace, then removes the container.
func (r *Runtime) Stop(ctx context.Context, id domain.ProcessID, grace time.Duration) error {
	name := containerName(id)
	timeout := max(1, int(math.Ceil(grace.Seconds())))

	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		r.logger.Warn("graceful stop failed, forcing removal", "worker_id", id, "error", err)
	}

	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (r *Runtime) Alive(ctx context.Context, id domain.ProcessID) (bool, error) {
	inspect, err := r.cli.ContainerInspect(ctx, containerName(id))
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil || !inspect.State.Running {
		// Exited containers are not auto-removed; clean up after the crash.
		if err := r.cli.ContainerRemove(ctx, containerName(id), container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn("failed to remove exited worker", "worker_id", id, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// ReapOrphans removes worker containers left over from a previous scaler run.
func (r *Runtime) ReapOrphans(ctx context.Context) (int, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list worker containers: %w", err)
	}

	reaped := 0
	for _, c := range containers {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn("failed to remove orphan worker", "container_id", c.ID, "error", err)
			continue
		}
		r.logger.Info("removed orphan worker", "container_id", c.ID, "worker_id", c.Labels[labelWorkerID])
		reaped++
	}
	return reaped, nil
}
