package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const stopTimeoutSeconds = 10

// WorkerIDEnv is the variable carrying the worker id assigned at provisioning
// time. Containers must register with the coordinator under this id so that
// scale-down, which terminates by registry worker id, finds the right
// container.
const WorkerIDEnv = "WORKER_ID"

// DockerProvisioner runs workers as local Docker containers. Containers are
// started from a configured image and register themselves with the
// coordinator through the environment passed in.
type DockerProvisioner struct {
	logger *zap.Logger
	docker *client.Client
	env    []string

	mu         sync.Mutex
	containers map[string]string // worker id -> container id
}

// NewDockerProvisioner creates a provisioner talking to the local Docker
// daemon. Extra env entries are injected into every worker container.
func NewDockerProvisioner(env []string, logger *zap.Logger) (*DockerProvisioner, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerProvisioner{
		logger:     logger.Named("docker-provisioner"),
		docker:     docker,
		env:        env,
		containers: make(map[string]string),
	}, nil
}

// workerEnv builds the container environment with the assigned worker id
// first, before the base and spec entries.
func workerEnv(workerID string, base, extra []string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, WorkerIDEnv+"="+workerID)
	env = append(env, base...)
	env = append(env, extra...)
	return env
}

// CreateWorker starts one worker container and returns the worker id the
// container was told to register under.
func (p *DockerProvisioner) CreateWorker(ctx context.Context, spec WorkerSpec) (string, error) {
	workerID := "worker-" + uuid.New().String()[:8]

	resp, err := p.docker.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Env:   workerEnv(workerID, p.env, spec.Env),
	}, nil, nil, nil, workerID)
	if err != nil {
		return "", fmt.Errorf("failed to create worker container: %w", err)
	}

	if err := p.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start worker container: %w", err)
	}

	p.mu.Lock()
	p.containers[workerID] = resp.ID
	p.mu.Unlock()

	p.logger.Info("Worker container started",
		zap.String("worker_id", workerID),
		zap.String("container_id", resp.ID),
		zap.String("image", spec.Image))

	return workerID, nil
}

// TerminateWorker stops and removes the container behind a worker id. A
// worker this provisioner never created is treated as a raw container id.
func (p *DockerProvisioner) TerminateWorker(ctx context.Context, id string) error {
	p.mu.Lock()
	containerID, ok := p.containers[id]
	p.mu.Unlock()
	if !ok {
		containerID = id
	}

	timeout := stopTimeoutSeconds
	if err := p.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop worker container: %w", err)
	}
	if err := p.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove worker container: %w", err)
	}

	p.mu.Lock()
	delete(p.containers, id)
	p.mu.Unlock()

	p.logger.Info("Worker container terminated",
		zap.String("worker_id", id),
		zap.String("container_id", containerID))
	return nil
}
