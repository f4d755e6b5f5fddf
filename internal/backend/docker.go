package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerControl is the control link to a Docker engine behind a stored
// "docker" connection profile. The gateway only frames and forwards
// status, stats and lifecycle commands; their semantics live in the
// engine.
type DockerControl struct {
	cli *client.Client
}

// NewDockerControl opens a control link. An empty host uses the
// environment's default engine endpoint.
func NewDockerControl(host string) (*DockerControl, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker control link: %w", err)
	}
	return &DockerControl{cli: cli}, nil
}

// shortID truncates a container id the way the docker CLI shows it. The
// engine can report ids shorter than the usual 64 hex chars.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ContainerStatus is the client-visible summary of one container.
type ContainerStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	State  string `json:"state"`
	Status string `json:"status"`
}

// Status lists all containers with their current state.
func (d *DockerControl) Status(ctx context.Context) ([]ContainerStatus, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ContainerStatus, 0, len(list))
	for _, c := range list {
		name := shortID(c.ID)
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, ContainerStatus{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
		})
	}
	return out, nil
}

// Stats returns a one-shot stats sample for a container, raw as the engine
// reports it.
func (d *DockerControl) Stats(ctx context.Context, containerID string) (json.RawMessage, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Command forwards one framed lifecycle command to the engine.
func (d *DockerControl) Command(ctx context.Context, containerID, command string) error {
	timeout := 10 // seconds, engine-side stop grace
	switch command {
	case "start":
		return d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	case "stop":
		return d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	case "restart":
		return d.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout})
	default:
		return fmt.Errorf("unsupported docker command %q", command)
	}
}

// Close releases the control link.
func (d *DockerControl) Close() error {
	return d.cli.Close()
}
